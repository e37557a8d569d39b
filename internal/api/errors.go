package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/types"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondAppError maps an error onto its categorized status and body.
// Internal causes are logged, never sent.
func respondAppError(w http.ResponseWriter, logger *logging.Logger, err error) {
	catErr := apperrors.Categorize(err)
	if apperrors.IsSystemError(catErr) {
		logger.WithError(err).WithField("code", catErr.Code).Error("Request failed")
	}

	message := catErr.Message
	if catErr.Code == apperrors.CodeInternalError {
		message = "An internal error occurred"
	}
	if apperrors.IsRetryable(catErr) {
		w.Header().Set("Retry-After", "1")
	}
	respondError(w, catErr.StatusCode, catErr.Code, message, catErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data) // nolint:errcheck // client went away
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
