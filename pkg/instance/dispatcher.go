package instance

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mockhive/mockhive/internal/matching"
	"github.com/mockhive/mockhive/pkg/httputil"
	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/mockerr"
	"github.com/mockhive/mockhive/pkg/relay"
)

// MaxBodySize caps buffered request bodies at 10 MB.
const MaxBodySize = 10 << 20

// Dispatcher serves all traffic for one instance: auth gate, relay or
// expectation matching, strategy execution, global-header merge.
type Dispatcher struct {
	inst   *Instance
	relays *relay.Engine
	log    *slog.Logger
}

// NewDispatcher wires a dispatcher to its instance. relays is shared
// across instances so they share the token cache.
func NewDispatcher(inst *Instance, relays *relay.Engine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{inst: inst, relays: relays, log: log}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	log := d.log.With("instance", d.inst.ID(), "requestId", reqID)
	log.Debug("request received", "method", r.Method, "path", r.URL.Path)

	if auth := d.inst.BasicAuth(); auth != nil && !d.authorized(r, auth) {
		w.Header().Set("WWW-Authenticate", `Basic realm="mock"`)
		w.WriteHeader(http.StatusUnauthorized)
		log.Debug("request rejected", "reason", "basic auth")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		log.Warn("reading request body", "error", err)
		httputil.WriteErrorFrom(w, http.StatusInternalServerError,
			mockerr.Wrap(mockerr.CodeInternal, err, "reading request body"))
		return
	}

	// Instance-level relay forces forwarding; expectations are ignored.
	if cfg := d.inst.Relay(); cfg != nil {
		resp, err := d.relayStrategy(r.Context(), cfg, r, body)
		if err != nil {
			log.Warn("relay failed", "remote", cfg.RemoteURL, "error", err)
			httputil.WriteErrorFrom(w, http.StatusBadGateway,
				mockerr.Wrap(mockerr.CodeRelay, err, "relay to %s failed", cfg.RemoteURL))
			return
		}
		d.write(w, resp)
		log.Debug("request relayed", "status", resp.status)
		return
	}

	match := matching.FirstMatch(d.inst.Expectations(), r, body)
	if match == nil {
		httputil.WriteErrorFrom(w, http.StatusNotFound,
			mockerr.New(mockerr.CodeNotMatched, "no expectation matched %s %s", r.Method, r.URL.Path))
		log.Debug("no expectation matched")
		return
	}

	resp, err := d.execute(r.Context(), match.Expectation, r, match.PathVars, body)
	if err != nil {
		if match.Expectation.Response.Relay != nil {
			log.Warn("relay failed", "error", err)
			httputil.WriteErrorFrom(w, http.StatusBadGateway,
				mockerr.Wrap(mockerr.CodeRelay, err, "relay failed"))
			return
		}
		log.Error("strategy failed", "error", err)
		httputil.WriteErrorFrom(w, http.StatusInternalServerError,
			mockerr.Wrap(mockerr.CodeInternal, err, "producing response"))
		return
	}

	d.write(w, resp)
	log.Debug("request served", "expectation", match.Index, "status", resp.status)
}

func (d *Dispatcher) authorized(r *http.Request, auth *BasicAuth) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(auth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(auth.Password)) == 1
	return userOK && passOK
}

func (d *Dispatcher) write(w http.ResponseWriter, resp *response) {
	h := w.Header()
	for name, values := range resp.header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	if !resp.relayed {
		mergeGlobalHeaders(h, d.inst.GlobalHeaders())
	}
	w.WriteHeader(resp.status)
	if len(resp.body) > 0 {
		w.Write(resp.body) //nolint:errcheck // client gone, nothing to do
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
