package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"session-guard/internal/guard"
	"session-guard/internal/model"
	"session-guard/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError is the single place where domain errors become HTTP answers.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    apierror.CodeInternal,
		Message: "Unexpected server error",
	}

	var (
		apiErr        *apierror.APIError
		authErr       *model.AuthenticationError
		transportErr  *model.TransportError
		corruptionErr *model.CorruptionPersistsError
		storageErr    *model.StorageError
	)

	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.Is(err, model.ErrRepairInFlight):
		status = http.StatusConflict
		body.Code = apierror.CodeRepairInFlight
		body.Message = "A repair is already running"
	case errors.Is(err, model.ErrRepairThrottled):
		w.Header().Set("Retry-After", "60")
		status = http.StatusTooManyRequests
		body.Code = apierror.CodeThrottled
		body.Message = "Too many repair attempts"
		body.Details = guard.Guidance(err)
	case errors.Is(err, model.ErrCredentialsRequired):
		status = http.StatusBadRequest
		body.Code = apierror.CodeCredentialsRequired
		body.Message = "Operator credentials are required"
		body.Details = guard.Guidance(err)
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
		body.Code = apierror.CodeAuthFailed
		body.Message = "Identity service rejected the login"
		body.Details = authDetails(authErr)
	case errors.As(err, &transportErr):
		status = http.StatusServiceUnavailable
		body.Code = apierror.CodeIdentityUnreachable
		body.Message = "Identity service unreachable"
		body.Details = transportErr.Error()
	case errors.As(err, &corruptionErr):
		status = http.StatusBadGateway
		body.Code = apierror.CodeCorruptionPersists
		body.Message = "Session still invalid after repair"
		body.Details = corruptionErr.Error()
	case errors.As(err, &storageErr):
		status = http.StatusInternalServerError
		body.Code = apierror.CodeStorage
		body.Message = "Session storage failure"
		body.Details = storageErr.Error()
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
		body.Code = apierror.CodeBadRequest
		body.Message = "Invalid input"
		body.Details = err.Error()
	default:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"success":false}`)
	}
	return append(data, '\n')
}

func authDetails(err *model.AuthenticationError) string {
	if err.StatusCode == 0 {
		return err.Reason
	}
	if err.Body == "" {
		return fmt.Sprintf("%s (status %d)", err.Reason, err.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", err.Reason, err.StatusCode, err.Body)
}
