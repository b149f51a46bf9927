// Package expectation defines the match → response rules served by mock
// instances.
package expectation

import (
	"encoding/json"

	"github.com/mockhive/mockhive/pkg/relay"
)

// Expectation pairs a request matcher with a response definition.
type Expectation struct {
	Match    Match    `json:"match"`
	Response Response `json:"response"`
}

// Match describes the requests an expectation applies to. Absent fields
// match anything.
type Match struct {
	// Method matches case-insensitively when set.
	Method string `json:"method,omitempty"`
	// Path is a literal or parameterized segment pattern, e.g.
	// "/users/{id}". Trailing slashes are normalized away.
	Path string `json:"path"`
	// QueryParams must all be present with matching values.
	QueryParams map[string]string `json:"queryParams,omitempty"`
	// Headers must all be present (case-insensitive names, exact values).
	Headers map[string]string `json:"headers,omitempty"`
	// Body is an optional body predicate.
	Body *BodyMatch `json:"body,omitempty"`
}

// BodyMatch is a body predicate. Set fields combine with AND logic.
type BodyMatch struct {
	// Equals requires byte-exact equality with the request body.
	Equals string `json:"equals,omitempty"`
	// Contains requires the request body to contain the substring.
	Contains string `json:"contains,omitempty"`
	// JSONSubset requires the given JSON value to be a subset of the
	// request body parsed as JSON.
	JSONSubset json.RawMessage `json:"jsonSubset,omitempty"`
}

// Response is a tagged variant. Exactly one field should be set; when
// several are, strategy priority picks: Relay > SSE > MultipartFile >
// Template > Static.
type Response struct {
	Static    *StaticResponse    `json:"static,omitempty"`
	Template  *TemplateResponse  `json:"template,omitempty"`
	SSE       *SSEResponse       `json:"sse,omitempty"`
	Multipart *MultipartResponse `json:"multipartFile,omitempty"`
	Relay     *relay.Config      `json:"relay,omitempty"`
}

// StaticResponse emits a literal status, headers, and body.
type StaticResponse struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// TemplateResponse renders Body as a ${...} template over the request
// context (pathVariables, headers, body, cookies).
type TemplateResponse struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// SSEResponse serializes the messages as a text/event-stream body.
type SSEResponse struct {
	Messages []SSEMessage `json:"messages"`
}

// SSEMessage is one event in an SSE response.
type SSEMessage struct {
	Data string `json:"data"`
	// IntervalMs is accepted as metadata and ignored: the mock flushes
	// all messages synchronously.
	IntervalMs int `json:"interval,omitempty"`
}

// MultipartResponse emits a multipart/mixed body whose parts are files
// read from disk.
type MultipartResponse struct {
	Status int        `json:"status,omitempty"`
	Files  []FilePart `json:"files"`
}

// FilePart is one part of a multipart response.
type FilePart struct {
	Name        string `json:"name,omitempty"`
	Path        string `json:"path"`
	ContentType string `json:"contentType,omitempty"`
}
