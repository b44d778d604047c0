package httpapi

import (
	"log"
	"net/http"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// statusFor maps an error code onto the HTTP status a client should see.
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeIllegalTransition, apperrors.CodeVersionConflict:
		return http.StatusConflict
	case apperrors.CodeLocked:
		return http.StatusLocked
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		log.Printf("ledger api: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(apperrors.CodeUnknown), Message: "internal error"})
		return
	}
	status := statusFor(appErr.Code)
	if status == http.StatusInternalServerError {
		log.Printf("ledger api: %v", err)
	}
	if status == http.StatusLocked || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Code: string(appErr.Code), Message: appErr.Message, Metadata: appErr.Metadata})
}
