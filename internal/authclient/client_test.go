package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-guard/internal/model"
)

var validToken = strings.Repeat("a1B2", 10)

func newIdentityServer(t *testing.T, login http.HandlerFunc) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", login)
	r.Get("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/v1/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func newClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()

	cfg := Config{BaseURL: baseURL, SendGrantType: true}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var creds = model.Credentials{Username: "40123456", Password: "s3cret"}

func TestAuthenticateFormBody(t *testing.T) {
	t.Parallel()

	server := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "40123456", r.PostForm.Get("username"))
		assert.Equal(t, "s3cret", r.PostForm.Get("password"))
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": validToken,
			"token_type":   "bearer",
			"user": map[string]any{
				"id":            "64f1c0ffee",
				"dni":           "40123456",
				"nombres":       "Rosa",
				"apellidos":     "Quispe",
				"email":         "rquispe@example.pe",
				"rolId":         "r-admin",
				"estaActivo":    true,
				"fechaCreacion": "2025-11-02T14:20:00",
			},
		})
	})

	client := newClient(t, server.URL, nil)
	cred, profile, err := client.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, validToken, cred.Token)
	require.False(t, cred.IssuedAt.IsZero())
	require.Equal(t, "Rosa", profile.GivenNames)
	require.Equal(t, "r-admin", profile.RoleID)
	require.True(t, profile.IsActive)
}

func TestAuthenticateMultipartWithoutGrantType(t *testing.T) {
	t.Parallel()

	server := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "40123456", r.FormValue("username"))
		assert.Empty(t, r.FormValue("grant_type"))

		writeJSON(w, http.StatusOK, map[string]any{"access_token": validToken})
	})

	client := newClient(t, server.URL, func(c *Config) {
		c.Encoding = EncodingMultipart
		c.SendGrantType = false
	})
	cred, profile, err := client.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, validToken, cred.Token)
	require.True(t, profile.IsZero())
}

func TestAuthenticateResponseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body any
	}{
		{name: "legacy camel case field", body: map[string]any{"accessToken": validToken}},
		{name: "success envelope", body: map[string]any{"success": true, "data": map[string]any{"access_token": validToken}}},
		{name: "numeric identifiers", body: map[string]any{
			"access_token": validToken,
			"user":         map[string]any{"id": 17, "dni": 40123456, "rolId": 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})

			cred, _, err := newClient(t, server.URL, nil).Authenticate(context.Background(), creds)
			require.NoError(t, err)
			require.Equal(t, validToken, cred.Token)
		})
	}
}

func TestAuthenticateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		raw        string
		wantStatus int
		wantReason string
	}{
		{name: "rejected credentials", status: http.StatusUnauthorized, raw: `{"detail":"Incorrect username or password"}`, wantStatus: 401, wantReason: "credentials rejected"},
		{name: "server error", status: http.StatusInternalServerError, raw: `oops`, wantStatus: 500, wantReason: "unexpected status"},
		{name: "unparseable body", status: http.StatusOK, raw: `<html>gateway</html>`, wantReason: "unusable response"},
		{name: "missing token", status: http.StatusOK, raw: `{"token_type":"bearer"}`, wantReason: "unusable response"},
		{name: "sentinel token", status: http.StatusOK, raw: `{"access_token":"undefined"}`, wantReason: "malformed token: sentinel"},
		{name: "short token", status: http.StatusOK, raw: `{"access_token":"abc123"}`, wantReason: "malformed token: too_short"},
		{name: "profile without role", status: http.StatusOK, raw: `{"access_token":"` + validToken + `","user":{"id":"1","dni":"2"}}`, wantReason: "unusable user profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.raw))
			})

			_, _, err := newClient(t, server.URL, nil).Authenticate(context.Background(), creds)

			var authErr *model.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantStatus, authErr.StatusCode)
			assert.Equal(t, tt.wantReason, authErr.Reason)
			if tt.wantStatus != 0 {
				assert.Equal(t, tt.raw, authErr.Body)
			}
			assert.False(t, model.IsRetryable(err))
		})
	}
}

func TestAuthenticateTimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := newClient(t, server.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	_, _, err := client.Authenticate(context.Background(), creds)

	var transportErr *model.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, "login", transportErr.Op)
	require.True(t, model.IsRetryable(err))
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	t.Parallel()

	client := newClient(t, "http://127.0.0.1:1", nil)
	_, _, err := client.Authenticate(context.Background(), model.Credentials{Username: "x"})
	require.ErrorIs(t, err, model.ErrCredentialsRequired)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	server := newIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {})

	client := newClient(t, server.URL, nil)
	require.NoError(t, client.Probe(context.Background(), validToken))
	require.ErrorIs(t, client.Probe(context.Background(), strings.Repeat("z", 40)), model.ErrTokenRejected)

	broken := newClient(t, server.URL, func(c *Config) { c.ProbePath = "/api/v1/broken" })
	err := broken.Probe(context.Background(), validToken)
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrTokenRejected)

	unreachable := newClient(t, "http://127.0.0.1:1", nil)
	var transportErr *model.TransportError
	require.ErrorAs(t, unreachable.Probe(context.Background(), validToken), &transportErr)
}

func TestJarReset(t *testing.T) {
	t.Parallel()

	server := newIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"access_token": validToken})
	})

	client := newClient(t, server.URL, nil)
	_, _, err := client.Authenticate(context.Background(), creds)
	require.NoError(t, err)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	require.Len(t, client.Jar().Cookies(u), 1)

	client.Jar().Reset()
	require.Empty(t, client.Jar().Cookies(u))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "http://identity.local", Encoding: "json"})
	require.Error(t, err)
}
