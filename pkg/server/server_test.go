package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"llamachat-hq/relay/internal/inferencetest"
	"llamachat-hq/relay/pkg/client"
	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/storage"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Storage.Driver = "memory"
	cfg.Auth.SessionSecret = "server-test-secret"
	// Unreachable on purpose: the stored ollamaUrl must win.
	cfg.Inference.Endpoint = "http://127.0.0.1:1/api/generate"
	cfg.Inference.HealthCheckInterval = 0
	return cfg
}

// start runs srv until the test ends and returns its base URL.
func start(t *testing.T, srv *Server) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		select {
		case err := <-done:
			t.Fatalf("Start: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return "http://" + srv.Addr().String()
}

func seedSettings(t *testing.T, store storage.Store, backendURL string) {
	t.Helper()
	ctx := context.Background()
	for key, value := range map[string]string{
		storage.SettingModelName:        "llama3",
		storage.SettingOllamaURL:        backendURL,
		storage.SettingModelDisplayName: "Llama 3",
	} {
		if _, err := store.PutSetting(ctx, key, value, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func post(t *testing.T, client *http.Client, url, body string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_GenerateUsesStoredEndpoint(t *testing.T) {
	backend := inferencetest.NewServer()
	defer backend.Close()
	lines := inferencetest.HelloLines("llama3")
	backend.SetScript(inferencetest.Script{Lines: lines})

	store := storage.NewMemoryStore()
	seedSettings(t, store, backend.URL())

	srv, err := New(testConfig(), Options{Version: "test", Store: store})
	if err != nil {
		t.Fatal(err)
	}
	base := start(t, srv)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	if resp := post(t, client, base+"/api/register", `{"username":"alice","password":"secret"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp := post(t, client, base+"/api/llama/generate", `{"model":"llama3","prompt":"hi","stream":true,"messageId":"m-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if got, want := string(body), strings.Join(lines, ""); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "m-1" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestServer_ChatOverWebSocket(t *testing.T) {
	backend := inferencetest.NewServer()
	defer backend.Close()
	backend.SetScript(inferencetest.Script{Lines: inferencetest.HelloLines("llama3")})

	store := storage.NewMemoryStore()
	seedSettings(t, store, backend.URL())

	cfg := testConfig()
	srv, err := New(cfg, Options{Version: "test", Store: store})
	if err != nil {
		t.Fatal(err)
	}
	base := start(t, srv)

	jar, _ := cookiejar.New(nil)
	httpClient := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	resp := post(t, httpClient, base+"/api/register", `{"username":"alice","password":"secret"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var user storage.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatal(err)
	}

	baseURL, _ := url.Parse(base)
	header := http.Header{}
	for _, c := range jar.Cookies(baseURL) {
		header.Add("Cookie", c.String())
	}

	ws := client.NewWSService(client.WSConfig{
		URL:        "ws" + strings.TrimPrefix(base, "http") + cfg.WebSocket.Path,
		UserID:     user.ID,
		Header:     header,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	wsDone := make(chan struct{})
	go func() {
		_ = ws.Start(ctx)
		close(wsDone)
	}()
	defer func() {
		cancel()
		<-wsDone
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 3*time.Second)
	defer waitCancel()
	if err := ws.WaitAuthenticated(waitCtx); err != nil {
		t.Fatalf("websocket never authenticated: %v", err)
	}

	var updates []client.Message
	chat := client.NewChat(client.ChatConfig{
		BaseURL:      base,
		HTTPClient:   httpClient,
		WS:           ws,
		Model:        "llama3",
		OnUpdate:     func(m client.Message) { updates = append(updates, m) },
		FallbackWait: 2 * time.Second,
	})
	msg, err := chat.SendMessage(ctx, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "Hello" || !msg.Done || msg.Error != "" {
		t.Errorf("message = %+v", msg)
	}
	if len(updates) == 0 || !updates[len(updates)-1].Done {
		t.Errorf("updates = %+v", updates)
	}

	got, err := store.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", got.UsageCount)
	}
}

func TestServer_OperationalEndpoints(t *testing.T) {
	backend := inferencetest.NewServer()
	defer backend.Close()

	store := storage.NewMemoryStore()
	seedSettings(t, store, backend.URL())

	srv, err := New(testConfig(), Options{Version: "test", Store: store})
	if err != nil {
		t.Fatal(err)
	}
	base := start(t, srv)

	resp, err := http.Get(base + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d", resp.StatusCode)
	}
	var status struct {
		Status string                     `json:"status"`
		Checks map[string]json.RawMessage `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if _, ok := status.Checks["backend"]; !ok {
		t.Errorf("checks = %v", status.Checks)
	}
	if _, ok := status.Checks["store"]; !ok {
		t.Errorf("checks = %v", status.Checks)
	}

	metricsResp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metricsResp.Body.Close()
	text, _ := io.ReadAll(metricsResp.Body)
	if !strings.Contains(string(text), "llamachat_http_requests_total") {
		t.Error("/metrics does not expose the HTTP request counter")
	}

	if resp, err := http.Get(base + "/api/user"); err != nil {
		t.Fatal(err)
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("/api/user without session = %d", resp.StatusCode)
		}
	}
}

func TestServer_ReadyFailsWhenBackendDown(t *testing.T) {
	srv, err := New(testConfig(), Options{Version: "test"})
	if err != nil {
		t.Fatal(err)
	}
	base := start(t, srv)

	resp, err := http.Get(base + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/ready status = %d, want 503", resp.StatusCode)
	}
}

func TestServer_StartTwice(t *testing.T) {
	srv, err := New(testConfig(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	start(t, srv)
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestServer_ConfigReloadKeepsStoredEndpoint(t *testing.T) {
	backend := inferencetest.NewServer()
	defer backend.Close()

	store := storage.NewMemoryStore()
	seedSettings(t, store, backend.URL())
	srv, err := New(testConfig(), Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	start(t, srv)

	reloaded := testConfig()
	reloaded.Inference.Endpoint = "http://other.example/api/generate"
	srv.applyConfig(reloaded)
	if got := srv.backend.Endpoint(); got != backend.URL() {
		t.Errorf("endpoint = %q, want stored %q", got, backend.URL())
	}
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(config.StorageConfig{Driver: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	path := t.TempDir() + "/nested/relay.db"
	store, err = OpenStore(config.StorageConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Error(err)
	}
	_ = store.Close()
}

func selfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, _ := x509.MarshalECPrivateKey(key)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "relay.crt")
	keyFile = filepath.Join(dir, "relay.key")
	_ = os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	_ = os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
	return certFile, keyFile
}

func TestServer_ServesTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TLS = config.TLSConfig{Enabled: true, MinVersion: "1.2", ReloadInterval: time.Minute}
	cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile = selfSigned(t)

	srv, err := New(cfg, Options{Version: "test"})
	if err != nil {
		t.Fatal(err)
	}
	base := "https" + strings.TrimPrefix(start(t, srv), "http")

	client := &http.Client{
		Timeout: 5 * time.Second,
		// #nosec G402 - self-signed test certificate
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}
	resp, err := client.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.TLS == nil || resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, tls = %v", resp.StatusCode, resp.TLS != nil)
	}
}

func TestNew_BadTLSPair(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TLS = config.TLSConfig{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"}
	if _, err := New(cfg, Options{}); err == nil {
		t.Error("New accepted a missing key pair")
	}
}
