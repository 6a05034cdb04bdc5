package diag

import "session-guard/internal/logger"

// redact masks sensitive values before they leave the process through the
// event stream. Log output is masked by the log handler itself.
func redact(payload map[string]any) map[string]any {
	for k := range payload {
		if logger.IsSensitive(k) {
			payload[k] = logger.Redacted
		}
	}
	return payload
}
