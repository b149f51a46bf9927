// Package tlsmaterial persists per-instance TLS PEM material to temp
// files and builds tls.Config values from it. The lifecycle manager owns
// the material; this package only tracks which files belong to which
// instance so deletion stays 1:1 with instance destruction.
package tlsmaterial

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mockhive/mockhive/pkg/logging"
)

// Material holds the PEM blobs configured for an instance.
type Material struct {
	CertPEM []byte
	KeyPEM  []byte
	// CAPEM enables mTLS when non-empty.
	CAPEM             []byte
	RequireClientAuth bool
}

// MTLS reports whether client certificate authentication is configured.
func (m *Material) MTLS() bool {
	return m != nil && len(m.CAPEM) > 0
}

// Files are the on-disk paths of materialized PEM blobs.
// CAFile is empty when no CA was configured.
type Files struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Store maps instance ids to their materialized temp files.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[string][]string
	log   *slog.Logger
}

// NewStore creates a Store writing under dir, or the OS temp directory
// when dir is empty.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		dir:   dir,
		files: make(map[string][]string),
		log:   log,
	}
}

// Materialize writes the instance's PEM blobs to temp files and records
// them for later cleanup. On any write failure the files written so far
// are removed and nothing is tracked.
func (s *Store) Materialize(instanceID string, m *Material) (*Files, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written []string
	write := func(kind string, data []byte) (string, error) {
		f, err := os.CreateTemp(s.dir, fmt.Sprintf("mockhive-%s-%s-*.pem", instanceID, kind))
		if err != nil {
			return "", fmt.Errorf("creating %s file: %w", kind, err)
		}
		path := f.Name()
		written = append(written, path)
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("writing %s file: %w", kind, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("closing %s file: %w", kind, err)
		}
		return path, nil
	}

	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	files := &Files{}
	var err error
	if files.CertFile, err = write("cert", m.CertPEM); err != nil {
		cleanup()
		return nil, err
	}
	if files.KeyFile, err = write("key", m.KeyPEM); err != nil {
		cleanup()
		return nil, err
	}
	if len(m.CAPEM) > 0 {
		if files.CAFile, err = write("ca", m.CAPEM); err != nil {
			cleanup()
			return nil, err
		}
	}

	s.files[instanceID] = append(s.files[instanceID], written...)
	return files, nil
}

// Release deletes every file tracked for the instance. Deletion failures
// are logged and never propagated.
func (s *Store) Release(instanceID string) {
	s.mu.Lock()
	paths := s.files[instanceID]
	delete(s.files, instanceID)
	s.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove TLS material file", "instance", instanceID, "path", p, "error", err)
		}
	}
}

// ReleaseAll deletes every tracked file. Used at process shutdown.
func (s *Store) ReleaseAll() {
	s.mu.Lock()
	all := s.files
	s.files = make(map[string][]string)
	s.mu.Unlock()

	for id, paths := range all {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("failed to remove TLS material file", "instance", id, "path", p, "error", err)
			}
		}
	}
}

// Tracked returns the file paths currently tracked for an instance.
func (s *Store) Tracked(instanceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, len(s.files[instanceID]))
	copy(paths, s.files[instanceID])
	return paths
}

// BuildServerConfig builds the listener tls.Config from materialized
// files. requireClientAuth selects between mandatory and opportunistic
// client certificate verification when a CA file is present.
func BuildServerConfig(files *Files, requireClientAuth bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if files.CAFile != "" {
		caPEM, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parsing CA certificate from %s", files.CAFile)
		}
		cfg.ClientCAs = pool
		if requireClientAuth {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return cfg, nil
}
