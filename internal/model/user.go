package model

import (
	"fmt"
	"strings"
)

// UserProfile mirrors the user object returned by the identity endpoint.
// Field names on the wire are the backend's, not ours.
type UserProfile struct {
	ID             string `json:"id"`
	IdentityNumber string `json:"dni"`
	GivenNames     string `json:"nombres"`
	FamilyNames    string `json:"apellidos"`
	Email          string `json:"email"`
	RoleID         string `json:"rolId"`
	IsActive       bool   `json:"estaActivo"`
	CreatedAt      string `json:"fechaCreacion,omitempty"`
}

// Validate rejects profiles missing identity or role. Missing values are
// never replaced with defaults.
func (p UserProfile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(p.IdentityNumber) == "" {
		missing = append(missing, "dni")
	}
	if strings.TrimSpace(p.RoleID) == "" {
		missing = append(missing, "rolId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrProfileInvalid, strings.Join(missing, ", "))
	}
	return nil
}

func (p UserProfile) IsZero() bool {
	return p == UserProfile{}
}

type OperatorClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	TokenID string `json:"jti"`
}
