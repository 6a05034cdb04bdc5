package model

import "time"

type RepairRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r RepairRequest) Credentials() Credentials {
	return Credentials{Username: r.Username, Password: r.Password}
}

type RejectedRequest struct {
	Reason string `json:"reason"`
}

type SessionView struct {
	State      SessionState `json:"state"`
	Defect     TokenDefect  `json:"defect,omitempty"`
	HasProfile bool         `json:"has_profile"`
	ProfileErr string       `json:"profile_error,omitempty"`
	Probed     bool         `json:"probed"`
	Profile    *UserProfile `json:"profile,omitempty"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

type RunView struct {
	RunID       string        `json:"run_id"`
	Trigger     string        `json:"trigger"`
	State       RepairState   `json:"state"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Transitions []RepairState `json:"transitions"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	DurationMS  int64         `json:"duration_ms"`
}

type RunListData struct {
	Items []RunView `json:"items"`
}
