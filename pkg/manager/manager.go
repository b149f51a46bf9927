// Package manager owns the registry of mock instances: creation with
// port binding and TLS bring-up, deletion with full cleanup, and
// read-only snapshots for the control plane.
package manager

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/instance"
	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/mockerr"
	"github.com/mockhive/mockhive/pkg/oauth"
	"github.com/mockhive/mockhive/pkg/pemcheck"
	"github.com/mockhive/mockhive/pkg/relay"
	"github.com/mockhive/mockhive/pkg/tlsmaterial"
)

const (
	// MinPort and MaxPort bound acceptable instance ports.
	MinPort = 1024
	MaxPort = 65535

	// shutdownTimeout bounds graceful drain before a hard close.
	shutdownTimeout = 5 * time.Second
)

// ServerInfo is the read-only snapshot of an instance returned by the
// control plane.
type ServerInfo struct {
	ID          string         `json:"serverId"`
	Port        int            `json:"port"`
	Description string         `json:"description,omitempty"`
	State       instance.State `json:"state"`
	TLS         bool           `json:"tls"`
	MTLS        bool           `json:"mtls"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type entry struct {
	inst *instance.Instance
	srv  *http.Server
}

// Manager is the instance registry. Creates and deletes are serialized;
// lookups run concurrently.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store  *tlsmaterial.Store
	tokens *oauth.Cache
	relays *relay.Engine
	log    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and its instances.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithTLSDir sets the directory TLS material is written under.
func WithTLSDir(dir string) Option {
	return func(m *Manager) { m.store = tlsmaterial.NewStore(dir, m.log) }
}

// New creates an empty manager. All instances created through it share
// one OAuth2 token cache.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = tlsmaterial.NewStore("", m.log)
	}
	m.tokens = oauth.NewCache(m.log)
	m.relays = relay.NewEngine(m.tokens, m.log)
	return m
}

// Create validates the spec, brings up the listener, and registers the
// instance. On any failure after partial bring-up everything is rolled
// back: nothing is registered and no TLS files remain.
func (m *Manager) Create(spec instance.Spec) (*ServerInfo, error) {
	if err := m.validateSpec(&spec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[spec.ID]; ok {
		return nil, mockerr.New(mockerr.CodeServerAlreadyExists, "server %q already exists", spec.ID)
	}
	for id, e := range m.entries {
		if e.inst.Port() == spec.Port {
			return nil, mockerr.New(mockerr.CodeServerCreation, "port %d already bound by server %q", spec.Port, id)
		}
	}

	inst := instance.New(spec)

	var files *tlsmaterial.Files
	material := spec.TLS.Material()
	if material != nil {
		var err error
		files, err = m.store.Materialize(spec.ID, material)
		if err != nil {
			return nil, mockerr.Wrap(mockerr.CodeServerCreation, err, "writing TLS material")
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", spec.Port))
	if err != nil {
		m.store.Release(spec.ID)
		return nil, mockerr.Wrap(mockerr.CodeServerCreation, err, "binding port %d", spec.Port)
	}

	if files != nil {
		tlsConf, err := tlsmaterial.BuildServerConfig(files, material.RequireClientAuth)
		if err != nil {
			ln.Close()
			m.store.Release(spec.ID)
			return nil, mockerr.Wrap(mockerr.CodeServerCreation, err, "building TLS config")
		}
		ln = tls.NewListener(ln, tlsConf)
	}

	srv := &http.Server{
		Handler:           instance.NewDispatcher(inst, m.relays, m.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.Error("instance serve loop exited", "instance", spec.ID, "error", err)
		}
	}()

	inst.SetState(instance.StateRunning)
	m.entries[spec.ID] = &entry{inst: inst, srv: srv}
	m.log.Info("instance created", "instance", spec.ID, "port", spec.Port, "tls", material != nil)

	return snapshot(inst), nil
}

// Delete stops the instance's listener, drops its cached tokens,
// removes its TLS files, and unregisters it. Cleanup failures are
// logged only.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if !ok {
		return mockerr.New(mockerr.CodeServerNotFound, "server %q not found", id)
	}

	m.teardown(e)
	m.log.Info("instance deleted", "instance", id)
	return nil
}

// teardown drains and closes a removed instance. In-flight requests get
// a bounded grace period.
func (m *Manager) teardown(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.srv.Shutdown(ctx); err != nil {
		m.log.Warn("graceful shutdown failed, forcing close", "instance", e.inst.ID(), "error", err)
		e.srv.Close() //nolint:errcheck // best effort
	}

	for _, cfg := range e.inst.RelayConfigs() {
		if cfg.TokenURL != "" {
			m.tokens.Invalidate(cfg.TokenURL, cfg.ClientID)
		}
	}
	m.store.Release(e.inst.ID())
	e.inst.SetState(instance.StateStopped)
}

// Get returns a snapshot of one instance.
func (m *Manager) Get(id string) (*ServerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, mockerr.New(mockerr.CodeServerNotFound, "server %q not found", id)
	}
	return snapshot(e.inst), nil
}

// Exists reports whether an instance is registered.
func (m *Manager) Exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// List returns snapshots of all instances, ordered by id.
func (m *Manager) List() []*ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]*ServerInfo, 0, len(m.entries))
	for _, e := range m.entries {
		infos = append(infos, snapshot(e.inst))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// SetExpectations validates and installs a new expectation list on an
// instance.
func (m *Manager) SetExpectations(id string, exps []*expectation.Expectation) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	return inst.SetExpectations(exps)
}

// Expectations returns the instance's current expectation snapshot.
func (m *Manager) Expectations(id string) ([]*expectation.Expectation, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return inst.Expectations(), nil
}

// ClearExpectations removes all expectations from an instance.
func (m *Manager) ClearExpectations(id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	inst.ClearExpectations()
	return nil
}

func (m *Manager) lookup(id string) (*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, mockerr.New(mockerr.CodeServerNotFound, "server %q not found", id)
	}
	return e.inst, nil
}

// Shutdown tears down all instances in parallel, best effort.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.teardown(e)
		}()
	}
	wg.Wait()
	m.store.ReleaseAll()
	m.log.Info("all instances stopped", "count", len(entries))
}

func (m *Manager) validateSpec(spec *instance.Spec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return mockerr.New(mockerr.CodeValidation, "serverId must not be blank")
	}
	if spec.Port < MinPort || spec.Port > MaxPort {
		return mockerr.New(mockerr.CodeValidation, "port %d out of range [%d, %d]", spec.Port, MinPort, MaxPort)
	}
	if spec.Relay != nil {
		if err := spec.Relay.Validate(); err != nil {
			return mockerr.Wrap(mockerr.CodeValidation, err, "invalid relayConfig")
		}
	}
	return m.validateTLS(spec.ID, spec.TLS)
}

func (m *Manager) validateTLS(id string, cfg *instance.TLSConfig) error {
	if cfg == nil {
		return nil
	}
	if err := pemcheck.ValidateCertificate([]byte(cfg.Certificate)); err != nil {
		return mockerr.Wrap(mockerr.CodeInvalidCertificate, err, "invalid certificate")
	}
	if err := pemcheck.ValidatePrivateKey([]byte(cfg.PrivateKey)); err != nil {
		return mockerr.Wrap(mockerr.CodeInvalidCertificate, err, "invalid private key")
	}
	if cfg.MTLS != nil {
		isCA, err := pemcheck.ValidateCA([]byte(cfg.MTLS.CACertificate))
		if err != nil {
			return mockerr.Wrap(mockerr.CodeInvalidCertificate, err, "invalid CA certificate")
		}
		if !isCA {
			m.log.Warn("configured CA certificate lacks the CA flag", "instance", id)
		}
	}
	return nil
}

func snapshot(inst *instance.Instance) *ServerInfo {
	tlsCfg := inst.TLS()
	return &ServerInfo{
		ID:          inst.ID(),
		Port:        inst.Port(),
		Description: inst.Description(),
		State:       inst.State(),
		TLS:         tlsCfg != nil,
		MTLS:        tlsCfg != nil && tlsCfg.MTLS != nil,
		CreatedAt:   inst.CreatedAt(),
	}
}
