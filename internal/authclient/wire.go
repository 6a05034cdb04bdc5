package authclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"session-guard/internal/model"
)

// loginResponse accepts both token field spellings the backend has used.
// access_token is canonical; accessToken is read only as a fallback.
type loginResponse struct {
	AccessToken       string    `json:"access_token"`
	LegacyAccessToken string    `json:"accessToken"`
	TokenType         string    `json:"token_type"`
	User              *wireUser `json:"user"`
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type wireUser struct {
	ID            flexString `json:"id"`
	DNI           flexString `json:"dni"`
	Nombres       string     `json:"nombres"`
	Apellidos     string     `json:"apellidos"`
	Email         string     `json:"email"`
	RolID         flexString `json:"rolId"`
	EstaActivo    bool       `json:"estaActivo"`
	FechaCreacion string     `json:"fechaCreacion"`
}

func (u wireUser) profile() model.UserProfile {
	return model.UserProfile{
		ID:             string(u.ID),
		IdentityNumber: string(u.DNI),
		GivenNames:     u.Nombres,
		FamilyNames:    u.Apellidos,
		Email:          u.Email,
		RoleID:         string(u.RolID),
		IsActive:       u.EstaActivo,
		CreatedAt:      u.FechaCreacion,
	}
}

// flexString decodes identifiers sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

var errNoToken = errors.New("response carries no access token")

func decodeLogin(body []byte) (string, *model.UserProfile, error) {
	payload := body

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var resp loginResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", nil, fmt.Errorf("decode login response: %w", err)
	}

	token := strings.TrimSpace(resp.AccessToken)
	if token == "" {
		token = strings.TrimSpace(resp.LegacyAccessToken)
	}
	if token == "" {
		return "", nil, errNoToken
	}

	if resp.User == nil {
		return token, nil, nil
	}
	profile := resp.User.profile()
	return token, &profile, nil
}
