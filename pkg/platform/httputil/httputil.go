// Package httputil holds the JSON envelope every handler writes.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "humanitylink/pkg/domain-errors"
)

// ErrorResponse is the failure envelope shared by all endpoints.
type ErrorResponse struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Field            string `json:"field,omitempty"`
}

// fielder is implemented by validation errors that name the offending field.
type fielder interface {
	FieldName() string
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to a status code and failure envelope.
// Internal errors never expose their cause.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{
		Success:          false,
		Error:            string(code),
		ErrorDescription: dErrors.MessageOf(err),
	}
	var f fielder
	if errors.As(err, &f) {
		resp.Field = f.FieldName()
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation,
		dErrors.CodeDirectoryRejected:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes the request body into v, rejecting unknown trailing data.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}
