package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/httputil"
	"github.com/mockhive/mockhive/pkg/instance"
	"github.com/mockhive/mockhive/pkg/jsonmc"
	"github.com/mockhive/mockhive/pkg/mockerr"
)

// maxRequestBody caps control-plane request bodies. PEM material makes
// create requests large, so the cap is generous.
const maxRequestBody = 10 << 20

// statusFor maps error codes to HTTP statuses per the published
// contract.
func statusFor(code mockerr.Code) int {
	switch code {
	case mockerr.CodeValidation, mockerr.CodeInvalidCertificate, mockerr.CodeInvalidExpectation:
		return http.StatusBadRequest
	case mockerr.CodeServerNotFound:
		return http.StatusNotFound
	case mockerr.CodeServerAlreadyExists:
		return http.StatusConflict
	case mockerr.CodeRelay:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	httputil.WriteErrorFrom(w, statusFor(mockerr.CodeOf(err)), err)
}

// decodeBody unmarshals a request body into v. Bodies declared as
// application/jsonmc run through the jsonmc preprocessor first.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return mockerr.Wrap(mockerr.CodeValidation, err, "reading request body")
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/jsonmc" {
		data, err = jsonmc.Preprocess(data)
		if err != nil {
			return mockerr.Wrap(mockerr.CodeValidation, err, "parsing jsonmc body")
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return mockerr.Wrap(mockerr.CodeValidation, err, "decoding request body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec instance.Spec
	if err := decodeBody(r, &spec); err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.mgr.Create(spec)
	if err != nil {
		s.log.Warn("create rejected", "instance", spec.ID, "error", err)
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, info)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, s.mgr.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteOK(w, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, s.mgr.Exists(r.PathValue("id")))
}

func (s *Server) handleSetExpectations(w http.ResponseWriter, r *http.Request) {
	var exps []*expectation.Expectation
	if err := decodeBody(r, &exps); err != nil {
		s.writeError(w, err)
		return
	}

	id := r.PathValue("id")
	if err := s.mgr.SetExpectations(id, exps); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteOK(w, map[string]int{"installed": len(exps)})
}

func (s *Server) handleGetExpectations(w http.ResponseWriter, r *http.Request) {
	exps, err := s.mgr.Expectations(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteOK(w, exps)
}

func (s *Server) handleClearExpectations(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ClearExpectations(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
