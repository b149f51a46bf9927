// Package matching implements ordered first-match expectation selection.
package matching

import (
	"net/http"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/mockhive/mockhive/pkg/expectation"
)

// Result is a successful match: the expectation, its position, and the
// path variables bound from the pattern.
type Result struct {
	Index       int
	Expectation *expectation.Expectation
	PathVars    map[string]string
}

// FirstMatch tests the request against expectations in order and returns
// the first that satisfies every declared condition. Ties between
// identical matchers resolve by insertion order. Returns nil when
// nothing matches.
func FirstMatch(exps []*expectation.Expectation, r *http.Request, body []byte) *Result {
	for i, exp := range exps {
		if vars, ok := Matches(&exp.Match, r, body); ok {
			return &Result{Index: i, Expectation: exp, PathVars: vars}
		}
	}
	return nil
}

// Matches tests a single matcher against the request. On success it
// returns the path variables bound by {name} segments.
func Matches(m *expectation.Match, r *http.Request, body []byte) (map[string]string, bool) {
	if m.Method != "" && !strings.EqualFold(m.Method, r.Method) {
		return nil, false
	}

	vars, ok := MatchPath(m.Path, r.URL.Path)
	if !ok {
		return nil, false
	}

	query := r.URL.Query()
	for name, want := range m.QueryParams {
		if !query.Has(name) || query.Get(name) != want {
			return nil, false
		}
	}

	for name, want := range m.Headers {
		if r.Header.Get(name) != want {
			return nil, false
		}
	}

	if m.Body != nil && !matchBody(m.Body, body) {
		return nil, false
	}

	return vars, true
}

// MatchPath matches a request path against a segment pattern. A segment
// of the form {name} binds the corresponding request segment; all other
// segments must be literal-equal. Trailing slashes are normalized away
// and segment counts must agree.
func MatchPath(pattern, path string) (map[string]string, bool) {
	patternParts := splitSegments(pattern)
	pathParts := splitSegments(path)

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	vars := make(map[string]string)
	for i, part := range patternParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			vars[part[1:len(part)-1]] = pathParts[i]
			continue
		}
		if part != pathParts[i] {
			return nil, false
		}
	}
	return vars, true
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// matchBody applies the body predicate. Set fields combine with AND.
func matchBody(m *expectation.BodyMatch, body []byte) bool {
	if m.Equals != "" && string(body) != m.Equals {
		return false
	}
	if m.Contains != "" && !strings.Contains(string(body), m.Contains) {
		return false
	}
	if len(m.JSONSubset) > 0 {
		want, err := oj.Parse([]byte(m.JSONSubset))
		if err != nil {
			return false
		}
		got, err := oj.Parse(body)
		if err != nil {
			return false
		}
		if !isSubset(want, got) {
			return false
		}
	}
	return true
}

// isSubset reports whether want is a subset of got: every key of a
// wanted object must be present with a matching value, arrays must agree
// in length and element-wise, scalars compare by value (numbers across
// int/float representations).
func isSubset(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !isSubset(wv, gv) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !isSubset(w[i], g[i]) {
				return false
			}
		}
		return true
	default:
		if wf, ok := toFloat(want); ok {
			gf, ok := toFloat(got)
			return ok && wf == gf
		}
		return want == got
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
