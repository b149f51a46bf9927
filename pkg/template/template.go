// Package template renders ${...} placeholders in response bodies
// against the matched request.
//
// Expressions resolve against four namespaces:
//
//	${pathVariables.<name>}  variables bound by the path pattern
//	${headers.<Name>}        request headers (case-insensitive)
//	${cookies.<name>}        request cookies
//	${body...}               the request body parsed as JSON, addressed
//	                         with a JSONPath-style dotted path
//
// Unresolvable expressions render as the empty string. The ${...}
// syntax is deliberately distinct from the @{...} environment
// references of the jsonmc dialect.
package template

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Context carries the request-derived values a template can reference.
type Context struct {
	PathVariables map[string]string
	Headers       http.Header
	Cookies       []*http.Cookie
	// Body is the request body parsed as JSON, or nil when the body was
	// empty or not valid JSON.
	Body any
}

// NewContext assembles a render context from a matched request. body is
// the already-buffered request body; it is parsed as JSON on a
// best-effort basis.
func NewContext(r *http.Request, pathVars map[string]string, body []byte) *Context {
	ctx := &Context{
		PathVariables: pathVars,
		Headers:       r.Header,
		Cookies:       r.Cookies(),
	}
	if len(body) > 0 {
		if parsed, err := oj.Parse(body); err == nil {
			ctx.Body = parsed
		}
	}
	return ctx
}

var exprRegex = regexp.MustCompile(`\$\{\s*([^}]+?)\s*\}`)

// Render substitutes every ${expression} in tpl with its evaluated
// value. Unknown expressions become the empty string.
func Render(tpl string, ctx *Context) (string, error) {
	var firstErr error
	out := exprRegex.ReplaceAllStringFunc(tpl, func(match string) string {
		inner := exprRegex.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}
		val, err := evaluate(strings.TrimSpace(inner[1]), ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func evaluate(expr string, ctx *Context) (string, error) {
	if ctx == nil {
		return "", nil
	}

	name, rest, _ := strings.Cut(expr, ".")
	switch name {
	case "pathVariables":
		return ctx.PathVariables[rest], nil
	case "headers":
		if ctx.Headers == nil {
			return "", nil
		}
		return ctx.Headers.Get(rest), nil
	case "cookies":
		for _, c := range ctx.Cookies {
			if c.Name == rest {
				return c.Value, nil
			}
		}
		return "", nil
	case "body":
		return evaluateBody(rest, ctx.Body)
	}
	return "", nil
}

// evaluateBody resolves a dotted path against the parsed JSON body.
// "body" alone re-serializes the whole document.
func evaluateBody(path string, body any) (string, error) {
	if body == nil {
		return "", nil
	}
	if path == "" {
		return oj.JSON(body), nil
	}

	x, err := jp.ParseString("$." + path)
	if err != nil {
		return "", fmt.Errorf("parsing body path %q: %w", path, err)
	}
	got := x.Get(body)
	if len(got) == 0 {
		return "", nil
	}
	return formatValue(got[0]), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case map[string]any, []any:
		return oj.JSON(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
