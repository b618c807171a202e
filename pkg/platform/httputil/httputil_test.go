package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "humanitylink/pkg/domain-errors"
)

type fieldErr struct{ field string }

func (e fieldErr) Error() string { return e.field + " is invalid" }
func (e fieldErr) FieldName() string { return e.field }

func TestWriteError(t *testing.T) {
	t.Run("internal error hides cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(errString("db failed"), dErrors.CodeInternal, "failed to store profile"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]any
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["success"] != false {
			t.Fatalf("expected success=false, got %v", body["success"])
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if body["error_description"] != "failed to store profile" {
			t.Fatalf("unexpected description %q", body["error_description"])
		}
	})

	t.Run("validation failure names the field", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(fieldErr{field: "fullName"}, dErrors.CodeValidation, "fullName must be at least 2 characters"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]any
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["field"] != "fullName" {
			t.Fatalf("expected field fullName, got %v", body["field"])
		}
	})

	t.Run("status mapping", func(t *testing.T) {
		cases := map[dErrors.Code]int{
			dErrors.CodeNotFound:             http.StatusNotFound,
			dErrors.CodeDirectoryRejected:    http.StatusBadRequest,
			dErrors.CodeDirectoryUnreachable: http.StatusInternalServerError,
			dErrors.CodeTimeout:              http.StatusInternalServerError,
			dErrors.CodeConflict:             http.StatusConflict,
		}
		for code, want := range cases {
			if got := StatusFor(code); got != want {
				t.Fatalf("code %s: expected %d, got %d", code, want, got)
			}
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	decode := func(body string) (map[string]any, error) {
		r := httptest.NewRequest(http.MethodPost, "/profile", strings.NewReader(body))
		var v map[string]any
		err := DecodeJSON(r, &v)
		return v, err
	}

	t.Run("single object", func(t *testing.T) {
		v, err := decode(`{"birthYear":2000}` + "\n")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v["birthYear"] != float64(2000) {
			t.Fatalf("unexpected body %v", v)
		}
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		for _, body := range []string{`{"birthYear":2000}{"birthYear":1990}`, `{"birthYear":2000} x`} {
			_, err := decode(body)
			if !dErrors.HasCode(err, dErrors.CodeBadRequest) {
				t.Fatalf("body %q: expected bad request, got %v", body, err)
			}
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		if _, err := decode(`{"birthYear":`); !dErrors.HasCode(err, dErrors.CodeBadRequest) {
			t.Fatalf("expected bad request, got %v", err)
		}
	})
}

type errString string

func (e errString) Error() string { return string(e) }
