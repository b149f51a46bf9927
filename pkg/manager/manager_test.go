package manager

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockhive/mockhive/pkg/expectation"
	"github.com/mockhive/mockhive/pkg/instance"
	"github.com/mockhive/mockhive/pkg/mockerr"
	"github.com/mockhive/mockhive/pkg/relay"
	"github.com/mockhive/mockhive/pkg/tlsmaterial"
)

var relayConfigBadScheme = relay.Config{RemoteURL: "ftp://nope"}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func staticExp(path, body string) *expectation.Expectation {
	return &expectation.Expectation{
		Match:    expectation.Match{Path: path},
		Response: expectation.Response{Static: &expectation.StaticResponse{Body: body}},
	}
}

func TestCreateServeDelete(t *testing.T) {
	m := New()
	defer m.Shutdown()

	port := freePort(t)
	info, err := m.Create(instance.Spec{ID: "app", Port: port, Description: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "app", info.ID)
	assert.Equal(t, instance.StateRunning, info.State)
	assert.False(t, info.TLS)

	require.NoError(t, m.SetExpectations("app", []*expectation.Expectation{staticExp("/ping", "pong")}))

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "pong", string(body))

	require.NoError(t, m.Delete("app"))
	assert.Empty(t, m.List())

	// port is released
	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
	assert.Error(t, err)
}

func TestCreateValidation(t *testing.T) {
	m := New()
	defer m.Shutdown()

	tests := []struct {
		name     string
		spec     instance.Spec
		wantCode mockerr.Code
	}{
		{name: "blank id", spec: instance.Spec{ID: "  ", Port: 9200}, wantCode: mockerr.CodeValidation},
		{name: "port below range", spec: instance.Spec{ID: "a", Port: 1023}, wantCode: mockerr.CodeValidation},
		{name: "port above range", spec: instance.Spec{ID: "a", Port: 65536}, wantCode: mockerr.CodeValidation},
		{name: "port zero", spec: instance.Spec{ID: "a", Port: 0}, wantCode: mockerr.CodeValidation},
		{
			name:     "bad certificate",
			spec:     instance.Spec{ID: "a", Port: 9201, TLS: &instance.TLSConfig{Certificate: "garbage", PrivateKey: "garbage"}},
			wantCode: mockerr.CodeInvalidCertificate,
		},
		{
			name: "mtls without ca",
			spec: instance.Spec{ID: "a", Port: 9202, TLS: func() *instance.TLSConfig {
				cert := testCert(t)
				return &instance.TLSConfig{
					Certificate: string(cert.CertPEM),
					PrivateKey:  string(cert.KeyPEM),
					MTLS:        &instance.MTLSConfig{},
				}
			}()},
			wantCode: mockerr.CodeInvalidCertificate,
		},
		{
			name:     "bad relay config",
			spec:     instance.Spec{ID: "a", Port: 9203, Relay: &relayConfigBadScheme},
			wantCode: mockerr.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(tt.spec)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, mockerr.CodeOf(err))
		})
	}

	assert.Empty(t, m.List(), "failed creates register nothing")
}

func TestCreateConflicts(t *testing.T) {
	m := New()
	defer m.Shutdown()

	port := freePort(t)
	_, err := m.Create(instance.Spec{ID: "dup", Port: port})
	require.NoError(t, err)

	t.Run("duplicate id", func(t *testing.T) {
		_, err := m.Create(instance.Spec{ID: "dup", Port: freePort(t)})
		require.Error(t, err)
		assert.Equal(t, mockerr.CodeServerAlreadyExists, mockerr.CodeOf(err))
	})

	t.Run("duplicate port", func(t *testing.T) {
		_, err := m.Create(instance.Spec{ID: "other", Port: port})
		require.Error(t, err)
		assert.Equal(t, mockerr.CodeServerCreation, mockerr.CodeOf(err))
	})

	assert.Len(t, m.List(), 1)
}

func TestCreateBindFailureRollsBack(t *testing.T) {
	port := freePort(t)
	blocker, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	defer blocker.Close()

	dir := t.TempDir()
	m := New(WithTLSDir(dir))
	defer m.Shutdown()

	cert := testCert(t)
	_, err = m.Create(instance.Spec{
		ID: "blocked", Port: port,
		TLS: &instance.TLSConfig{Certificate: string(cert.CertPEM), PrivateKey: string(cert.KeyPEM)},
	})
	require.Error(t, err)
	assert.Equal(t, mockerr.CodeServerCreation, mockerr.CodeOf(err))

	assert.False(t, m.Exists("blocked"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "TLS material rolled back")
}

func testCert(t *testing.T) *tlsmaterial.GeneratedCert {
	t.Helper()
	cert, err := tlsmaterial.GenerateSelfSigned(&tlsmaterial.CertOptions{
		CommonName: "localhost",
		DNSNames:   []string{"localhost"},
		IPs:        []net.IP{net.ParseIP("127.0.0.1")},
		ValidFor:   time.Hour,
	})
	require.NoError(t, err)
	return cert
}

func TestCreateTLSInstance(t *testing.T) {
	dir := t.TempDir()
	m := New(WithTLSDir(dir))
	defer m.Shutdown()

	cert := testCert(t)
	port := freePort(t)
	info, err := m.Create(instance.Spec{
		ID: "secure", Port: port,
		TLS: &instance.TLSConfig{Certificate: string(cert.CertPEM), PrivateKey: string(cert.KeyPEM)},
	})
	require.NoError(t, err)
	assert.True(t, info.TLS)
	assert.False(t, info.MTLS)

	require.NoError(t, m.SetExpectations("secure", []*expectation.Expectation{staticExp("/tls", "over tls")}))

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get(fmt.Sprintf("https://127.0.0.1:%d/tls", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "over tls", string(body))

	require.NoError(t, m.Delete("secure"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no TLS temp files remain after delete")
}

func TestDeleteAbsent(t *testing.T) {
	m := New()
	err := m.Delete("ghost")
	require.Error(t, err)
	assert.Equal(t, mockerr.CodeServerNotFound, mockerr.CodeOf(err))
}

func TestConcurrentCreates(t *testing.T) {
	m := New()
	defer m.Shutdown()

	const n = 10
	ports := make([]int, n)
	for i := range ports {
		ports[i] = freePort(t)
	}

	t.Run("distinct ids all register", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Create(instance.Spec{ID: fmt.Sprintf("c%d", i), Port: ports[i]})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Len(t, m.List(), n)
	})

	t.Run("same id exactly one wins", func(t *testing.T) {
		port := freePort(t)
		var wins, losses int
		var mu sync.Mutex
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Create(instance.Spec{ID: "contested", Port: port})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else {
					losses++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, n-1, losses)
	})
}

func TestExpectationOperations(t *testing.T) {
	m := New()
	defer m.Shutdown()

	_, err := m.Create(instance.Spec{ID: "e", Port: freePort(t)})
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		assert.Equal(t, mockerr.CodeServerNotFound, mockerr.CodeOf(m.SetExpectations("nope", nil)))
		_, err := m.Expectations("nope")
		assert.Equal(t, mockerr.CodeServerNotFound, mockerr.CodeOf(err))
		assert.Equal(t, mockerr.CodeServerNotFound, mockerr.CodeOf(m.ClearExpectations("nope")))
	})

	t.Run("set get clear", func(t *testing.T) {
		require.NoError(t, m.SetExpectations("e", []*expectation.Expectation{staticExp("/a", "a"), staticExp("/b", "b")}))
		exps, err := m.Expectations("e")
		require.NoError(t, err)
		assert.Len(t, exps, 2)

		require.NoError(t, m.ClearExpectations("e"))
		require.NoError(t, m.ClearExpectations("e"))
		exps, err = m.Expectations("e")
		require.NoError(t, err)
		assert.Empty(t, exps)
	})

	t.Run("invalid expectation rejected", func(t *testing.T) {
		err := m.SetExpectations("e", []*expectation.Expectation{{Match: expectation.Match{Path: ""}}})
		assert.Equal(t, mockerr.CodeInvalidExpectation, mockerr.CodeOf(err))
	})
}

func TestShutdownStopsEverything(t *testing.T) {
	m := New()

	ports := []int{freePort(t), freePort(t), freePort(t)}
	for i, p := range ports {
		_, err := m.Create(instance.Spec{ID: fmt.Sprintf("s%d", i), Port: p})
		require.NoError(t, err)
	}

	m.Shutdown()
	assert.Empty(t, m.List())
	for _, p := range ports {
		_, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", p))
		assert.Error(t, err)
	}
}
