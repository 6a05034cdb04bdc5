package model

import (
	"encoding/json"
	"time"
)

type SessionState string

const (
	SessionAbsent    SessionState = "ABSENT"
	SessionCorrupted SessionState = "CORRUPTED"
	SessionValid     SessionState = "VALID"
)

type RepairState string

const (
	RepairIdle           RepairState = "IDLE"
	RepairInspecting     RepairState = "INSPECTING"
	RepairClearing       RepairState = "CLEARING"
	RepairAuthenticating RepairState = "AUTHENTICATING"
	RepairPersisting     RepairState = "PERSISTING"
	RepairVerifying      RepairState = "VERIFYING"
	RepairSucceeded      RepairState = "SUCCEEDED"
	RepairFailed         RepairState = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s RepairState) Terminal() bool {
	return s == RepairSucceeded || s == RepairFailed
}

type SessionCredential struct {
	Token     string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Snapshot is the raw persisted state as read from a credential store.
// Nothing in it has been validated.
type Snapshot struct {
	Token       string
	HasToken    bool
	ProfileJSON string
	HasProfile  bool
	// LegacyKey names the pre-rename key the token was found under, if any.
	LegacyKey string
}

func (s Snapshot) Profile() (UserProfile, error) {
	var profile UserProfile
	if !s.HasProfile {
		return profile, ErrProfileMissing
	}
	if err := json.Unmarshal([]byte(s.ProfileJSON), &profile); err != nil {
		return UserProfile{}, err
	}
	return profile, nil
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}
