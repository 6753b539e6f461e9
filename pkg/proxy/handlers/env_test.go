package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llamachat-hq/relay/internal/inferencetest"
	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/inference"
	"llamachat-hq/relay/pkg/keywords"
	"llamachat-hq/relay/pkg/limits"
	"llamachat-hq/relay/pkg/proxy/middleware"
	"llamachat-hq/relay/pkg/registry"
	"llamachat-hq/relay/pkg/relay"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/storage"
)

// testEnv wires every handler onto a mux the way the server does.
type testEnv struct {
	store    *storage.MemoryStore
	sessions *auth.SessionManager
	backend  *inferencetest.Server
	client   *inference.Client
	registry *registry.Registry
	matcher  *keywords.Matcher
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := inferencetest.NewServer()
	t.Cleanup(backend.Close)

	client, err := inference.NewClient(inference.Config{Endpoint: backend.URL(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	sessions, err := auth.NewSessionManager(auth.SessionConfig{Secret: "test-secret", CookieName: "sid"})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	env := &testEnv{
		store:    storage.NewMemoryStore(),
		sessions: sessions,
		backend:  backend,
		client:   client,
		registry: registry.New(nil),
		matcher:  keywords.NewMatcher(),
		mux:      http.NewServeMux(),
	}
	authn := auth.NewAuthenticator(sessions, env.store)
	user := authn.RequireUser
	admin := authn.RequireAdmin

	relaySvc := relay.NewService(client, env.registry,
		relay.WithQuota(limits.NewQuotaGate(env.store, true, nil)),
		relay.WithKeywords(env.matcher),
	)

	const maxBody = 1 << 20
	ah := NewAuthHandler(env.store, sessions, maxBody)
	sh := NewSetupHandler(env.store, sessions, client, maxBody)
	st := NewSettingsHandler(env.store, client, func() string { return "LlamaChat" }, maxBody)
	ch := NewConversationHandler(env.store, env.matcher, maxBody)
	adm := NewAdminHandler(env.store, env.matcher, maxBody)

	m := env.mux
	m.HandleFunc("POST /api/register", ah.Register)
	m.HandleFunc("POST /api/login", ah.Login)
	m.HandleFunc("POST /api/logout", ah.Logout)
	m.Handle("GET /api/user", user(http.HandlerFunc(ah.CurrentUser)))
	m.Handle("GET /api/user/profile", user(http.HandlerFunc(ah.Profile)))

	m.HandleFunc("GET /api/setup/status", sh.Status)
	m.HandleFunc("POST /api/setup", sh.Setup)
	m.HandleFunc("GET /api/app-info", st.AppInfo)
	m.Handle("GET /api/settings/llm", user(http.HandlerFunc(st.GetLLM)))
	m.Handle("PUT /api/settings/llm", admin(http.HandlerFunc(st.PutLLM)))

	m.Handle("GET /api/conversations", user(http.HandlerFunc(ch.List)))
	m.Handle("POST /api/conversations", user(http.HandlerFunc(ch.Create)))
	m.Handle("GET /api/conversations/{id}", user(http.HandlerFunc(ch.Get)))
	m.Handle("PUT /api/conversations/{id}", user(http.HandlerFunc(ch.Update)))
	m.Handle("DELETE /api/conversations/{id}", user(http.HandlerFunc(ch.Delete)))
	m.Handle("POST /api/conversations/{id}/messages", user(http.HandlerFunc(ch.CreateMessage)))

	m.Handle("GET /api/admin/blocked-keywords", admin(http.HandlerFunc(adm.ListKeywords)))
	m.Handle("POST /api/admin/blocked-keywords", admin(http.HandlerFunc(adm.CreateKeyword)))
	m.Handle("DELETE /api/admin/blocked-keywords/{id}", admin(http.HandlerFunc(adm.DeleteKeyword)))
	m.Handle("GET /api/admin/users", admin(http.HandlerFunc(adm.ListUsers)))
	m.Handle("PUT /api/admin/users/{id}", admin(http.HandlerFunc(adm.UpdateUser)))
	m.Handle("GET /api/admin/models", admin(http.HandlerFunc(adm.ListModels)))
	m.Handle("POST /api/admin/models", admin(http.HandlerFunc(adm.CreateModel)))
	m.Handle("PUT /api/admin/models/{id}/default", admin(http.HandlerFunc(adm.SetDefaultModel)))
	m.Handle("DELETE /api/admin/models/{id}", admin(http.HandlerFunc(adm.DeleteModel)))
	m.Handle("GET /api/admin/backend", admin(NewBackendStatusHandler(client)))

	m.Handle("POST /api/llama/generate", middleware.RequestID(user(NewGenerateHandler(relaySvc, maxBody))))
	m.Handle("POST /api/llama/cancel", user(NewCancelHandler(client)))
	m.Handle("GET /ws", NewWebSocketHandler(env.registry, authn, config.WebSocketConfig{}))

	return env
}

// createUser adds a user directly to the store. The first user is admin.
func (e *testEnv) createUser(t *testing.T, username string) *storage.User {
	t.Helper()
	hash, err := auth.HashPassword("pw-" + username)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u, err := e.store.CreateUser(t.Context(), username, hash)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (e *testEnv) cookie(t *testing.T, userID int64) *http.Cookie {
	t.Helper()
	token, _, err := e.sessions.Token(userID)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	return &http.Cookie{Name: e.sessions.CookieName(), Value: token}
}

// do runs one request through the mux. body may be a string or a value to
// marshal; cookie may be nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]any](t, rec)["error"].(string)
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
