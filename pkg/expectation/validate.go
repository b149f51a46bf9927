package expectation

import (
	"encoding/json"
	"strings"

	"github.com/mockhive/mockhive/pkg/mockerr"
)

// Validate checks an expectation before it is installed on an instance.
func (e *Expectation) Validate() error {
	if strings.TrimSpace(e.Match.Path) == "" {
		return mockerr.New(mockerr.CodeInvalidExpectation, "match.path is required")
	}
	if !strings.HasPrefix(e.Match.Path, "/") {
		return mockerr.New(mockerr.CodeInvalidExpectation, "match.path must start with /, got %q", e.Match.Path)
	}

	if b := e.Match.Body; b != nil && len(b.JSONSubset) > 0 {
		if !json.Valid(b.JSONSubset) {
			return mockerr.New(mockerr.CodeInvalidExpectation, "match.body.jsonSubset is not valid JSON")
		}
	}

	return e.Response.validate()
}

func (r *Response) validate() error {
	count := 0
	if r.Static != nil {
		count++
		if s := r.Static.Status; s != 0 && (s < 100 || s > 599) {
			return mockerr.New(mockerr.CodeInvalidExpectation, "static.status %d out of range", s)
		}
	}
	if r.Template != nil {
		count++
		if r.Template.Body == "" {
			return mockerr.New(mockerr.CodeInvalidExpectation, "template.body is required")
		}
	}
	if r.SSE != nil {
		count++
		if len(r.SSE.Messages) == 0 {
			return mockerr.New(mockerr.CodeInvalidExpectation, "sse.messages must not be empty")
		}
	}
	if r.Multipart != nil {
		count++
		if len(r.Multipart.Files) == 0 {
			return mockerr.New(mockerr.CodeInvalidExpectation, "multipartFile.files must not be empty")
		}
		for i, f := range r.Multipart.Files {
			if f.Path == "" {
				return mockerr.New(mockerr.CodeInvalidExpectation, "multipartFile.files[%d].path is required", i)
			}
		}
	}
	if r.Relay != nil {
		count++
		if err := r.Relay.Validate(); err != nil {
			return mockerr.Wrap(mockerr.CodeInvalidExpectation, err, "invalid relay response")
		}
	}

	if count == 0 {
		return mockerr.New(mockerr.CodeInvalidExpectation,
			"response must set one of static, template, sse, multipartFile, relay")
	}
	return nil
}
