package instance

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/relay"
	"github.com/mockhive/mockhive/pkg/template"
)

// response is a fully materialized strategy result, buffered so the
// dispatcher can merge global headers before anything hits the wire.
type response struct {
	status int
	header http.Header
	body   []byte
	// relayed responses pass upstream headers through verbatim and skip
	// the global-header merge.
	relayed bool
}

// execute picks the response strategy for a matched expectation and
// runs it. Priority when several variants are set: Relay > SSE >
// MultipartFile > Template > Static.
func (d *Dispatcher) execute(ctx context.Context, exp *expectation.Expectation, r *http.Request, pathVars map[string]string, body []byte) (*response, error) {
	resp := &exp.Response
	switch {
	case resp.Relay != nil:
		return d.relayStrategy(ctx, resp.Relay, r, body)
	case resp.SSE != nil:
		return sseStrategy(resp.SSE), nil
	case resp.Multipart != nil:
		return multipartStrategy(resp.Multipart)
	case resp.Template != nil:
		return templateStrategy(resp.Template, r, pathVars, body)
	case resp.Static != nil:
		return staticStrategy(resp.Static), nil
	}
	return nil, fmt.Errorf("expectation has no response strategy")
}

func staticStrategy(s *expectation.StaticResponse) *response {
	return &response{
		status: statusOrOK(s.Status),
		header: headerFromMap(s.Headers),
		body:   []byte(s.Body),
	}
}

func templateStrategy(t *expectation.TemplateResponse, r *http.Request, pathVars map[string]string, body []byte) (*response, error) {
	rendered, err := template.Render(t.Body, template.NewContext(r, pathVars, body))
	if err != nil {
		return nil, fmt.Errorf("rendering template: %w", err)
	}
	return &response{
		status: statusOrOK(t.Status),
		header: headerFromMap(t.Headers),
		body:   []byte(rendered),
	}, nil
}

// sseStrategy serializes all messages synchronously; per-message
// intervals are metadata only.
func sseStrategy(s *expectation.SSEResponse) *response {
	var buf bytes.Buffer
	for _, msg := range s.Messages {
		buf.WriteString("data: ")
		buf.WriteString(msg.Data)
		buf.WriteString("\n\n")
	}

	h := http.Header{}
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &response{status: http.StatusOK, header: h, body: buf.Bytes()}
}

func multipartStrategy(m *expectation.MultipartResponse) (*response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range m.Files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("reading part file: %w", err)
		}

		name := f.Name
		if name == "" {
			name = filepath.Base(f.Path)
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Type", contentType)
		hdr.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, fmt.Errorf("creating part: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, fmt.Errorf("writing part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	h := http.Header{}
	h.Set("Content-Type", "multipart/mixed; boundary="+w.Boundary())
	return &response{status: statusOrOK(m.Status), header: h, body: buf.Bytes()}, nil
}

func (d *Dispatcher) relayStrategy(ctx context.Context, cfg *relay.Config, r *http.Request, body []byte) (*response, error) {
	res, err := d.relays.Do(ctx, cfg, r.Method, requestURI(r), r.Header, body)
	if err != nil {
		return nil, err
	}
	return &response{status: res.StatusCode, header: res.Header, body: res.Body, relayed: true}, nil
}

func requestURI(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func headerFromMap(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// mergeGlobalHeaders adds each global header unless the response already
// carries a header of the same name, so expectation headers win.
// Duplicate names within the globals themselves all get added.
func mergeGlobalHeaders(h http.Header, globals []GlobalHeader) {
	present := make(map[string]bool, len(h))
	for name := range h {
		present[strings.ToLower(name)] = true
	}
	for _, g := range globals {
		if present[strings.ToLower(g.Name)] {
			continue
		}
		h.Add(g.Name, g.Value)
	}
}
