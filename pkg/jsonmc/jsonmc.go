// Package jsonmc implements the JsonMC configuration dialect: JSON with
// line and block comments, backtick multiline strings, and environment
// variable expansion via @{NAME} / @{NAME:-DEFAULT}.
//
// The dialect is processed in two passes over the raw text. Environment
// references are expanded first, then comments are stripped and backtick
// strings are rewritten into regular JSON strings. The result must be
// strict JSON. The @{...} syntax is distinct from the ${...} used by
// response templates, so configuration documents can safely embed
// template bodies.
package jsonmc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Preprocessing errors.
var (
	ErrUnterminatedComment = errors.New("jsonmc: unterminated block comment")
	ErrUnterminatedString  = errors.New("jsonmc: unterminated multiline string")
	ErrUnterminatedEnvRef  = errors.New("jsonmc: unterminated environment reference")
)

// Parse preprocesses a JsonMC document and unmarshals it as strict JSON.
func Parse(data []byte) (any, error) {
	out, err := Preprocess(data)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("jsonmc: invalid JSON after preprocessing: %w", err)
	}
	return v, nil
}

// Preprocess expands environment references and rewrites the document
// into strict JSON without parsing it. Callers that decode into typed
// structures run the result through encoding/json themselves.
func Preprocess(data []byte) ([]byte, error) {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, err
	}
	rewritten, err := rewrite(expanded)
	if err != nil {
		return nil, err
	}
	return []byte(rewritten), nil
}

// ExpandEnv replaces every @{NAME} with the value of the environment
// variable NAME and every @{NAME:-DEFAULT} with the variable's value if it
// is defined and non-empty, else the literal DEFAULT. A reference to an
// undefined variable with no default is an error.
func ExpandEnv(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		j := strings.Index(s[i:], "@{")
		if j < 0 {
			sb.WriteString(s[i:])
			break
		}
		sb.WriteString(s[i : i+j])
		start := i + j + 2
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return "", ErrUnterminatedEnvRef
		}
		ref := s[start : start+end]

		name, def, hasDefault := strings.Cut(ref, ":-")
		value, defined := os.LookupEnv(name)
		switch {
		case hasDefault:
			if defined && value != "" {
				sb.WriteString(value)
			} else {
				sb.WriteString(def)
			}
		case defined:
			sb.WriteString(value)
		default:
			return "", fmt.Errorf("jsonmc: undefined environment variable %q", name)
		}
		i = start + end + 1
	}

	return sb.String(), nil
}

// lexer states for rewrite.
type state int

const (
	stateDefault state = iota
	stateRegularString
	stateSingleLineComment
	stateMultiLineComment
	stateMultilineString
)

// rewrite strips comments and converts backtick strings to JSON strings
// in a single left-to-right pass.
func rewrite(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))

	st := stateDefault
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch st {
		case stateDefault:
			switch {
			case c == '/' && i+1 < len(s) && s[i+1] == '/':
				st = stateSingleLineComment
				i++
			case c == '/' && i+1 < len(s) && s[i+1] == '*':
				st = stateMultiLineComment
				i++
			case c == '"':
				sb.WriteByte(c)
				st = stateRegularString
			case c == '`':
				sb.WriteByte('"')
				st = stateMultilineString
			default:
				sb.WriteByte(c)
			}

		case stateRegularString:
			// Classic JSON string rules: backslash escapes the next byte,
			// comments and backticks inside are literal.
			if c == '\\' && i+1 < len(s) {
				sb.WriteByte(c)
				sb.WriteByte(s[i+1])
				i++
				continue
			}
			sb.WriteByte(c)
			if c == '"' {
				st = stateDefault
			}

		case stateSingleLineComment:
			if c == '\n' {
				sb.WriteByte(c)
				st = stateDefault
			}

		case stateMultiLineComment:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				sb.WriteByte(' ')
				i++
				st = stateDefault
			}

		case stateMultilineString:
			switch {
			case c == '\\' && i+1 < len(s) && s[i+1] == '`':
				// Escaped backtick stays a literal backtick.
				sb.WriteByte('`')
				i++
			case c == '\\':
				sb.WriteString(`\\`)
			case c == '`':
				sb.WriteByte('"')
				st = stateDefault
			case c == '"':
				sb.WriteString(`\"`)
			case c == '\r' && i+1 < len(s) && s[i+1] == '\n':
				sb.WriteString(`\n`)
				i++
			case c == '\n':
				sb.WriteString(`\n`)
			case c == '\r':
				sb.WriteString(`\r`)
			case c == '\t':
				sb.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&sb, `\u%04x`, c)
			default:
				sb.WriteByte(c)
			}
		}
	}

	switch st {
	case stateMultiLineComment:
		return "", ErrUnterminatedComment
	case stateMultilineString:
		return "", ErrUnterminatedString
	}
	return sb.String(), nil
}
