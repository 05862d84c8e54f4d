package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"calculogic/internal/builder"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// badRequest wraps a malformed payload as a validation failure.
func badRequest(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &builder.Error{Kind: builder.KindValidation, Message: "field " + fe.Field() + " failed " + fe.Tag() + " check"}
	}
	return &builder.Error{Kind: builder.KindValidation, Message: "invalid request payload: " + err.Error()}
}

// writeError maps a failed operation to its HTTP status. Storage failures
// are logged and reported without their cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := builder.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case builder.KindValidation:
		status = http.StatusBadRequest
	case builder.KindAuthorization:
		status = http.StatusForbidden
		if principalFrom(r.Context()).Anonymous() {
			status = http.StatusUnauthorized
		}
	case builder.KindNotFound:
		status = http.StatusNotFound
	case builder.KindConflict:
		status = http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = http.StatusText(status)
	}
	writeJSONError(w, status, string(kind), message)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
