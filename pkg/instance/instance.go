// Package instance holds the state of a single mock endpoint and the
// dispatcher that serves its traffic.
package instance

import (
	"sync/atomic"
	"time"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/relay"
	"github.com/mockhive/mockhive/pkg/tlsmaterial"
)

// State tracks where an instance is in its lifecycle.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// BasicAuth gates all of an instance's traffic behind HTTP basic auth.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// GlobalHeader is one (name, value) pair merged into every response the
// instance produces. Duplicate names are allowed; order is preserved.
type GlobalHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TLSConfig is the wire shape of an instance's TLS material.
type TLSConfig struct {
	Certificate string      `json:"certificate"`
	PrivateKey  string      `json:"privateKey"`
	MTLS        *MTLSConfig `json:"mtlsConfig,omitempty"`
}

// MTLSConfig enables client certificate authentication.
type MTLSConfig struct {
	CACertificate string `json:"caCertificate"`
	// RequireClientAuth defaults to true when omitted.
	RequireClientAuth *bool `json:"requireClientAuth,omitempty"`
}

// Material converts the wire shape into PEM material for the store.
func (c *TLSConfig) Material() *tlsmaterial.Material {
	if c == nil {
		return nil
	}
	m := &tlsmaterial.Material{
		CertPEM: []byte(c.Certificate),
		KeyPEM:  []byte(c.PrivateKey),
	}
	if c.MTLS != nil {
		m.CAPEM = []byte(c.MTLS.CACertificate)
		m.RequireClientAuth = c.MTLS.RequireClientAuth == nil || *c.MTLS.RequireClientAuth
	}
	return m
}

// Spec is everything needed to create an instance.
type Spec struct {
	ID            string         `json:"serverId"`
	Port          int            `json:"port"`
	Description   string         `json:"description,omitempty"`
	TLS           *TLSConfig     `json:"tlsConfig,omitempty"`
	BasicAuth     *BasicAuth     `json:"basicAuth,omitempty"`
	GlobalHeaders []GlobalHeader `json:"globalHeaders,omitempty"`
	Relay         *relay.Config  `json:"relayConfig,omitempty"`
}

// Instance is one live mock endpoint. Expectations are published as
// immutable snapshots so in-flight requests never observe a partial
// update.
type Instance struct {
	spec      Spec
	createdAt time.Time

	state atomic.Value                                // State
	exps  atomic.Pointer[[]*expectation.Expectation] // read-only snapshot
}

// New builds an instance in the starting state with no expectations.
func New(spec Spec) *Instance {
	inst := &Instance{spec: spec, createdAt: time.Now().UTC()}
	inst.state.Store(StateStarting)
	empty := []*expectation.Expectation{}
	inst.exps.Store(&empty)
	return inst
}

func (i *Instance) ID() string                    { return i.spec.ID }
func (i *Instance) Port() int                     { return i.spec.Port }
func (i *Instance) Description() string           { return i.spec.Description }
func (i *Instance) CreatedAt() time.Time          { return i.createdAt }
func (i *Instance) TLS() *TLSConfig               { return i.spec.TLS }
func (i *Instance) BasicAuth() *BasicAuth         { return i.spec.BasicAuth }
func (i *Instance) GlobalHeaders() []GlobalHeader { return i.spec.GlobalHeaders }
func (i *Instance) Relay() *relay.Config          { return i.spec.Relay }

// State returns the current lifecycle state.
func (i *Instance) State() State { return i.state.Load().(State) }

// SetState transitions the instance's lifecycle state.
func (i *Instance) SetState(s State) { i.state.Store(s) }

// SetExpectations validates and installs a new expectation list,
// replacing the previous one atomically. On validation failure the
// previous list stays in effect.
func (i *Instance) SetExpectations(exps []*expectation.Expectation) error {
	for _, exp := range exps {
		if err := exp.Validate(); err != nil {
			return err
		}
	}
	snapshot := make([]*expectation.Expectation, len(exps))
	copy(snapshot, exps)
	i.exps.Store(&snapshot)
	return nil
}

// Expectations returns the current snapshot. Callers must not mutate it.
func (i *Instance) Expectations() []*expectation.Expectation {
	return *i.exps.Load()
}

// ClearExpectations removes all expectations. Clearing twice is the same
// as clearing once.
func (i *Instance) ClearExpectations() {
	empty := []*expectation.Expectation{}
	i.exps.Store(&empty)
}

// RelayConfigs collects every relay configuration the instance can use:
// the instance-level relay plus any expectation-level overrides. Used to
// invalidate cached tokens on teardown.
func (i *Instance) RelayConfigs() []*relay.Config {
	var cfgs []*relay.Config
	if i.spec.Relay != nil {
		cfgs = append(cfgs, i.spec.Relay)
	}
	for _, exp := range i.Expectations() {
		if exp.Response.Relay != nil {
			cfgs = append(cfgs, exp.Response.Relay)
		}
	}
	return cfgs
}
