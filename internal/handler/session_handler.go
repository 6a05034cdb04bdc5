package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"session-guard/internal/guard"
	"session-guard/internal/inspector"
	"session-guard/internal/journal"
	"session-guard/internal/model"
	"session-guard/internal/util"
	"session-guard/pkg/apierror"
)

const maxBodyBytes = 16 << 10

type SessionHandler struct {
	guard     *guard.Orchestrator
	inspector *inspector.Inspector
	journal   *journal.Journal
}

func NewSessionHandler(g *guard.Orchestrator, insp *inspector.Inspector, j *journal.Journal) *SessionHandler {
	return &SessionHandler{guard: g, inspector: insp, journal: j}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	probe, err := parseBool(r.URL.Query().Get("probe"))
	if err != nil {
		writeError(w, apierror.BadRequest("probe must be a boolean", r.URL.Query().Get("probe")))
		return
	}

	var report inspector.Report
	if probe {
		report = h.inspector.Verify(r.Context())
	} else {
		report = h.inspector.Classify(r.Context())
	}

	writeSuccess(w, http.StatusOK, report.View(true))
}

// Repair runs a manual repair. A JSON body with username and password
// supplies the credentials for this run only.
func (h *SessionHandler) Repair(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RepairRequest
	present, err := decodeOptional(r, &payload)
	if err != nil {
		writeError(w, err)
		return
	}

	payload.Username = util.SanitizeUsername(payload.Username)

	var opts []guard.RunOption
	if present && (payload.Username != "" || payload.Password != "") {
		opts = append(opts, guard.UsingCredentials(payload.Credentials()))
	}

	outcome, err := h.guard.Repair(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, outcome.View())
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RepairRequest
	present, err := decodeOptional(r, &payload)
	if err != nil {
		writeError(w, err)
		return
	}
	payload.Username = util.SanitizeUsername(payload.Username)
	if !present || payload.Credentials().Empty() {
		writeError(w, model.ErrCredentialsRequired)
		return
	}

	outcome, err := h.guard.Login(r.Context(), payload.Credentials())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, outcome.View())
}

func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.SessionView{State: model.SessionAbsent})
}

// Rejected is called by the application shell after a protected call
// answered 401.
func (h *SessionHandler) Rejected(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RejectedRequest
	if _, err := decodeOptional(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.guard.Rejected(r.Context(), util.SanitizeText(payload.Reason, util.MaxReasonRunes))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, report.View(false))
}

func (h *SessionHandler) Runs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := journal.DefaultLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, apierror.BadRequest("limit must be a positive integer", raw))
			return
		}
		limit = parsed
	}

	items, err := h.journal.Recent(journal.Query{
		Limit:   limit,
		State:   query.Get("state"),
		Trigger: query.Get("trigger"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.RunListData{Items: items})
}

// decodeOptional decodes a JSON body when there is one. It reports whether a
// body was present.
func decodeOptional(r *http.Request, dst any) (bool, error) {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, apierror.BadRequest("invalid JSON body", err.Error())
	}
	return true, nil
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(raw))
}
