package guard

import (
	"context"

	"github.com/stretchr/testify/mock"

	"session-guard/internal/model"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, creds model.Credentials) (model.SessionCredential, model.UserProfile, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(model.SessionCredential), args.Get(1).(model.UserProfile), args.Error(2)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

type MockShell struct {
	mock.Mock
}

func (m *MockShell) Reload(ctx context.Context, outcome Outcome) {
	m.Called(ctx, outcome)
}

func (m *MockShell) RequireLogin(ctx context.Context, reason string, outcome Outcome) {
	m.Called(ctx, reason, outcome)
}
