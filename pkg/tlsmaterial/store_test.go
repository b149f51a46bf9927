package tlsmaterial

import (
	"crypto/tls"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterial(t *testing.T, withCA bool) *Material {
	t.Helper()
	cert, err := GenerateSelfSigned(nil)
	require.NoError(t, err)

	m := &Material{CertPEM: cert.CertPEM, KeyPEM: cert.KeyPEM, RequireClientAuth: true}
	if withCA {
		ca, err := GenerateSelfSigned(&CertOptions{CommonName: "test-ca", IsCA: true})
		require.NoError(t, err)
		m.CAPEM = ca.CertPEM
	}
	return m
}

func TestMaterializeAndRelease(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	files, err := store.Materialize("inst-1", testMaterial(t, true))
	require.NoError(t, err)
	require.NotEmpty(t, files.CertFile)
	require.NotEmpty(t, files.KeyFile)
	require.NotEmpty(t, files.CAFile)

	tracked := store.Tracked("inst-1")
	assert.Len(t, tracked, 3)
	for _, p := range tracked {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	store.Release("inst-1")
	assert.Empty(t, store.Tracked("inst-1"))
	for _, p := range tracked {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
}

func TestMaterializeWithoutCA(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	files, err := store.Materialize("inst-2", testMaterial(t, false))
	require.NoError(t, err)
	assert.Empty(t, files.CAFile)
	assert.Len(t, store.Tracked("inst-2"), 2)
}

func TestReleaseAll(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	_, err := store.Materialize("a", testMaterial(t, false))
	require.NoError(t, err)
	_, err = store.Materialize("b", testMaterial(t, false))
	require.NoError(t, err)

	pathsA := store.Tracked("a")
	pathsB := store.Tracked("b")

	store.ReleaseAll()
	for _, p := range append(pathsA, pathsB...) {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	assert.Empty(t, store.Tracked("a"))
	assert.Empty(t, store.Tracked("b"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	_, err := store.Materialize("a", testMaterial(t, false))
	require.NoError(t, err)

	store.Release("a")
	store.Release("a") // second release is a no-op, never panics
}

func TestBuildServerConfig(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	t.Run("plain TLS", func(t *testing.T) {
		files, err := store.Materialize("plain", testMaterial(t, false))
		require.NoError(t, err)

		cfg, err := BuildServerConfig(files, false)
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	})

	t.Run("mTLS required", func(t *testing.T) {
		files, err := store.Materialize("mtls", testMaterial(t, true))
		require.NoError(t, err)

		cfg, err := BuildServerConfig(files, true)
		require.NoError(t, err)
		require.NotNil(t, cfg.ClientCAs)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	})

	t.Run("mTLS optional", func(t *testing.T) {
		files, err := store.Materialize("mtls-opt", testMaterial(t, true))
		require.NoError(t, err)

		cfg, err := BuildServerConfig(files, false)
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	})

	t.Run("bad CA file", func(t *testing.T) {
		files, err := store.Materialize("bad-ca", testMaterial(t, false))
		require.NoError(t, err)
		badCA := files.CertFile // a cert file is valid PEM, so overwrite with junk
		require.NoError(t, os.WriteFile(badCA+".junk", []byte("junk"), 0600))
		files.CAFile = badCA + ".junk"

		_, err = BuildServerConfig(files, true)
		require.Error(t, err)
	})
}
