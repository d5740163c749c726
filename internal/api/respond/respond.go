// Package respond writes JSON responses and maps the error taxonomy to
// HTTP status codes. It lives below the handlers so middleware can emit
// the same wire shape.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

type ErrorBody struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error is the single mapping from the error taxonomy to HTTP status
// codes. Internal causes are logged by middleware, never leaked.
func Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case apperr.KindBadRequest:
		status, msg = http.StatusBadRequest, err.Error()
	case apperr.KindUnauthorized:
		status, msg = http.StatusUnauthorized, err.Error()
	case apperr.KindForbidden:
		status, msg = http.StatusForbidden, err.Error()
	case apperr.KindNotFound:
		status, msg = http.StatusNotFound, err.Error()
	case apperr.KindConflict:
		status, msg = http.StatusConflict, err.Error()
	}
	JSON(w, status, ErrorBody{Error: msg, Fields: apperr.FieldsOf(err)})
}
