package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/mrz"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Lines       []string `json:"lines,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps worker error codes to HTTP statuses.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrorInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrorUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperrors.ErrorNoMRZMatch:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorProcessingTimeout, apperrors.ErrorNetworkTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrorOCRFailed, apperrors.ErrorAPICallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal failures omit the description.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)

	body := errorResponse{Error: string(code)}
	if code == "" {
		body.Error = "INTERNAL_ERROR"
	}
	if status != http.StatusInternalServerError {
		var pe *apperrors.ProcessingError
		if stderrors.As(err, &pe) {
			body.Description = pe.Message
		}
	}

	var nm *mrz.NoMatchError
	if stderrors.As(err, &nm) {
		body.Reason = string(nm.Reason)
		body.Lines = nm.Lines
	}

	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:       string(apperrors.ErrorInvalidInput),
		Description: msg,
	})
}
