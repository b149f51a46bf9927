package jsonmc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // expected plain JSON
	}{
		{
			name:  "single line comment",
			input: "{ // comment\n\"a\": 1 }",
			want:  `{"a":1}`,
		},
		{
			name:  "block comment",
			input: `{ /* comment */ "a": 1 }`,
			want:  `{"a":1}`,
		},
		{
			name:  "block comment spanning lines",
			input: "{ /* one\ntwo */ \"a\": 1 }",
			want:  `{"a":1}`,
		},
		{
			name:  "comment markers inside regular string are literal",
			input: `{"a": "http://example.com/*x*/"}`,
			want:  `{"a":"http://example.com/*x*/"}`,
		},
		{
			name:  "backtick inside regular string is literal",
			input: "{\"a\": \"tick ` tock\"}",
			want:  "{\"a\":\"tick ` tock\"}",
		},
		{
			name:  "escaped quote in regular string",
			input: `{"a": "say \"hi\" // not a comment"}`,
			want:  `{"a":"say \"hi\" // not a comment"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)

			var want any
			require.NoError(t, json.Unmarshal([]byte(tt.want), &want))
			assert.Equal(t, want, got)
		})
	}
}

func TestParseMultilineStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{
			name:  "newlines become escaped",
			input: "{\"b\": `line1\nline2`}",
			want:  map[string]any{"b": "line1\nline2"},
		},
		{
			name:  "crlf normalized to lf",
			input: "{\"b\": `line1\r\nline2`}",
			want:  map[string]any{"b": "line1\nline2"},
		},
		{
			name:  "quotes escaped",
			input: "{\"b\": `a \"q\" b`}",
			want:  map[string]any{"b": `a "q" b`},
		},
		{
			name:  "backslashes literalized",
			input: "{\"b\": `c:\\temp`}",
			want:  map[string]any{"b": `c:\temp`},
		},
		{
			name:  "escaped backtick",
			input: "{\"b\": `a \\` b`}",
			want:  map[string]any{"b": "a ` b"},
		},
		{
			name:  "slashes inside multiline are not comments",
			input: "{\"b\": `a // b /* c */`}",
			want:  map[string]any{"b": "a // b /* c */"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "unterminated block comment", input: `{"a": 1 /* oops`, want: ErrUnterminatedComment},
		{name: "unterminated multiline string", input: "{\"a\": `oops", want: ErrUnterminatedString},
		{name: "unterminated env ref", input: `{"a": @{NOPE`, want: ErrUnterminatedEnvRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("invalid residue", func(t *testing.T) {
		_, err := Parse([]byte(`{"a": }`))
		require.Error(t, err)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("JSONMC_TEST_SET", "value")
	t.Setenv("JSONMC_TEST_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "defined variable", input: `"@{JSONMC_TEST_SET}"`, want: `"value"`},
		{name: "defined wins over default", input: `"@{JSONMC_TEST_SET:-fallback}"`, want: `"value"`},
		{name: "empty variable uses default", input: `"@{JSONMC_TEST_EMPTY:-fallback}"`, want: `"fallback"`},
		{name: "undefined uses default", input: `"@{JSONMC_TEST_UNSET:-fallback}"`, want: `"fallback"`},
		{name: "undefined without default fails", input: `"@{JSONMC_TEST_UNSET}"`, wantErr: true},
		{name: "no references untouched", input: `{"a": "${template.var}"}`, want: `{"a": "${template.var}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The literal document from the dialect definition: comments, a defaulted
// env reference, and a multiline string with embedded quotes.
func TestParseFullDocument(t *testing.T) {
	input := "{ // name\n" +
		"  \"name\": \"x\",\n" +
		"  /* port */\n" +
		"  \"port\": @{JSONMC_TEST_PORT:-9000},\n" +
		"  \"body\": `line1\nline2 \"q\"` }"

	got, err := Parse([]byte(input))
	require.NoError(t, err)

	want := map[string]any{
		"name": "x",
		"port": float64(9000),
		"body": "line1\nline2 \"q\"",
	}
	assert.Equal(t, want, got)
}

// Pure JSON must round-trip through the parser unchanged.
func TestParsePureJSONRoundTrip(t *testing.T) {
	doc := `{"a": [1, 2.5, true, null], "b": {"c": "d"}, "e": "f/g"}`

	got, err := Parse([]byte(doc))
	require.NoError(t, err)

	var want any
	require.NoError(t, json.Unmarshal([]byte(doc), &want))
	assert.Equal(t, want, got)
}
