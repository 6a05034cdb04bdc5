// Package authclient talks to the identity endpoint: it exchanges operator
// credentials for a bearer token and probes a protected resource with it.
// It never retries; callers own the retry policy.
package authclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"session-guard/internal/model"
)

type Encoding string

const (
	EncodingForm      Encoding = "form"
	EncodingMultipart Encoding = "multipart"

	DefaultLoginPath    = "/api/v1/auth/login"
	DefaultProbePath    = "/api/v1/auth/me"
	DefaultTimeout      = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second

	maxResponseBytes = 1 << 20
	maxErrorBody     = 4 << 10
)

type Config struct {
	BaseURL        string
	LoginPath      string
	ProbePath      string
	Timeout        time.Duration
	ProbeTimeout   time.Duration
	Encoding       Encoding
	SendGrantType  bool
	MinTokenLength int
}

type Client struct {
	cfg      Config
	loginURL string
	probeURL string
	http     *http.Client
	jar      *Jar
	now      func() time.Time
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("identity base URL %q is not absolute", cfg.BaseURL)
	}

	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = DefaultProbePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingForm
	}
	if cfg.Encoding != EncodingForm && cfg.Encoding != EncodingMultipart {
		return nil, fmt.Errorf("unsupported login encoding %q", cfg.Encoding)
	}
	if cfg.MinTokenLength == 0 {
		cfg.MinTokenLength = model.DefaultMinTokenLength
	}

	jar := NewJar()
	root := strings.TrimRight(base.String(), "/")

	return &Client{
		cfg:      cfg,
		loginURL: root + cfg.LoginPath,
		probeURL: root + cfg.ProbePath,
		http:     &http.Client{Jar: jar},
		jar:      jar,
		now:      time.Now,
	}, nil
}

// Jar exposes the cookie jar so the credential store can drop
// authentication cookies on clear.
func (c *Client) Jar() *Jar {
	return c.jar
}

// Authenticate exchanges credentials for a session. The returned profile is
// zero when the endpoint does not send a user object.
func (c *Client) Authenticate(ctx context.Context, creds model.Credentials) (model.SessionCredential, model.UserProfile, error) {
	if creds.Empty() {
		return model.SessionCredential{}, model.UserProfile{}, model.ErrCredentialsRequired
	}

	body, contentType, err := c.encodeLogin(creds)
	if err != nil {
		return model.SessionCredential{}, model.UserProfile{}, fmt.Errorf("encode login body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, body)
	if err != nil {
		return model.SessionCredential{}, model.UserProfile{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.SessionCredential{}, model.UserProfile{}, &model.TransportError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.SessionCredential{}, model.UserProfile{}, &model.TransportError{Op: "login", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := "unexpected status"
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			reason = "credentials rejected"
		}
		return model.SessionCredential{}, model.UserProfile{}, &model.AuthenticationError{
			StatusCode: resp.StatusCode,
			Body:       truncate(raw, maxErrorBody),
			Reason:     reason,
		}
	}

	token, profile, err := decodeLogin(raw)
	if err != nil {
		return model.SessionCredential{}, model.UserProfile{}, &model.AuthenticationError{
			Body:   truncate(raw, maxErrorBody),
			Reason: "unusable response",
			Err:    err,
		}
	}

	if defect := model.CheckToken(token, c.cfg.MinTokenLength); defect != model.TokenOK {
		return model.SessionCredential{}, model.UserProfile{}, &model.AuthenticationError{
			Reason: "malformed token: " + string(defect),
		}
	}

	var user model.UserProfile
	if profile != nil {
		if err := profile.Validate(); err != nil {
			return model.SessionCredential{}, model.UserProfile{}, &model.AuthenticationError{
				Reason: "unusable user profile",
				Err:    err,
			}
		}
		user = *profile
	}

	return model.NewCredential(token, c.now()), user, nil
}

// Probe issues an authenticated GET against the protected resource.
// A 401 answer returns model.ErrTokenRejected.
func (c *Client) Probe(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &model.TransportError{Op: "probe", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return model.ErrTokenRejected
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	default:
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
}

func (c *Client) encodeLogin(creds model.Credentials) (io.Reader, string, error) {
	fields := [][2]string{
		{"username", creds.Username},
		{"password", creds.Password},
	}
	if c.cfg.SendGrantType {
		fields = append(fields, [2]string{"grant_type", "password"})
	}

	if c.cfg.Encoding == EncodingForm {
		values := url.Values{}
		for _, f := range fields {
			values.Set(f[0], f[1])
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func truncate(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit])
}
