//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"session-guard/internal/authclient"
	"session-guard/internal/config"
	"session-guard/internal/diag"
	"session-guard/internal/event"
	"session-guard/internal/guard"
	"session-guard/internal/handler"
	"session-guard/internal/inspector"
	"session-guard/internal/journal"
	"session-guard/internal/middleware"
	"session-guard/internal/model"
	"session-guard/internal/router"
	"session-guard/internal/store"
	"session-guard/internal/stream"
)

const (
	operatorSecret = "integration-secret"
	identityUser   = "40123456"
	identityPass   = "correct-horse"
)

// identityServer imitates the backend login and profile endpoints.
type identityServer struct {
	*httptest.Server

	logins atomic.Int32
	mu     sync.Mutex
	issued map[string]bool
	down   atomic.Bool
}

func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()

	ids := &identityServer{issued: map[string]bool{}}

	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		ids.logins.Add(1)
		if ids.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.FormValue("username") != identityUser || r.FormValue("password") != identityPass {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}

		token := strings.Repeat("t", 24) + "-" + time.Now().Format("150405.000000000")
		ids.mu.Lock()
		ids.issued[token] = true
		ids.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": token,
			"token_type":   "bearer",
			"user": map[string]any{
				"id":         42,
				"dni":        identityUser,
				"nombres":    "Ana",
				"apellidos":  "Quispe",
				"rolId":      "r-admin",
				"estaActivo": true,
			},
		})
	})
	r.Get("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ids.mu.Lock()
		ok := ids.issued[token]
		ids.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"dni": identityUser})
	})

	ids.Server = httptest.NewServer(r)
	t.Cleanup(ids.Close)
	return ids
}

type stack struct {
	api      *httptest.Server
	identity *identityServer
	backend  *store.FileBackend
	store    *store.Store
	storeDir string
	bus      *event.InMemoryBus
	guard    *guard.Orchestrator
}

type stackOption func(*guard.Config, *[]guard.Option)

func withEnvCredentials() stackOption {
	return func(_ *guard.Config, opts *[]guard.Option) {
		*opts = append(*opts, guard.WithCredentialSource(guard.CredentialSourceFunc(func(context.Context) (model.Credentials, error) {
			return model.Credentials{Username: identityUser, Password: identityPass}, nil
		})))
	}
}

func withRetry() stackOption {
	return func(cfg *guard.Config, _ *[]guard.Option) {
		cfg.MaxExtraAttempts = 1
		cfg.RetryBackoff = 10 * time.Millisecond
	}
}

func newStack(t *testing.T, options ...stackOption) *stack {
	t.Helper()

	ids := newIdentityServer(t)
	dir := t.TempDir()

	backend, err := store.NewFileBackend(filepath.Join(dir, "session.db"), "integration-passphrase")
	require.NoError(t, err)
	credentialStore := store.New(backend)

	client, err := authclient.New(authclient.Config{BaseURL: ids.URL, SendGrantType: true, Timeout: 2 * time.Second})
	require.NoError(t, err)
	credentialStore.SetCookieJar(client.Jar())

	bus := event.NewBus()
	reporter := diag.NewBusReporter(bus)
	insp := inspector.New(credentialStore, inspector.WithProber(client), inspector.WithReporter(reporter))

	runJournal, err := journal.New(filepath.Join(dir, "repairs.jsonl"))
	require.NoError(t, err)

	guardCfg := guard.Config{PersistTimeout: 2 * time.Second, RatePerMinute: -1}
	opts := []guard.Option{guard.WithRecorder(runJournal), guard.WithReporter(reporter), guard.WithEventBus(bus)}
	for _, option := range options {
		option(&guardCfg, &opts)
	}
	g := guard.New(credentialStore, client, insp, guardCfg, opts...)

	hub := stream.NewHub(bus)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	cfg := &config.Config{
		CORSOrigins:        []string{"*"},
		RateLimitRPM:       1000,
		RepairRateLimitRPM: 1000,
		RequestTimeout:     10 * time.Second,
	}
	api := httptest.NewServer(router.New(cfg,
		middleware.NewAuthMiddleware(operatorSecret),
		handler.NewHealthHandler(nil),
		handler.NewSessionHandler(g, insp, runJournal),
		handler.NewEventsHandler(hub, time.Second),
	))
	t.Cleanup(func() {
		stopHub()
		api.Close()
	})

	return &stack{api: api, identity: ids, backend: backend, store: credentialStore, storeDir: dir, bus: bus, guard: g}
}

// seedToken writes a raw token value the way an older client might have.
func (s *stack) seedToken(t *testing.T, key string, value string) {
	t.Helper()

	require.NoError(t, s.backend.Apply(context.Background(), []store.Op{
		{Kind: store.OpSet, Area: store.AreaLocal, Key: key, Value: value},
	}))
}

func operatorToken(t *testing.T) string {
	t.Helper()

	token, err := middleware.IssueOperatorToken(operatorSecret, "integration", "operator", time.Hour)
	require.NoError(t, err)
	return token
}

func doAuthJSONRequest(t *testing.T, method string, url string, body any, accessToken string) *http.Response {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, dst any) model.APIResponse {
	t.Helper()

	var envelope struct {
		model.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if dst != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, dst))
	}
	return envelope.APIResponse
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
