// Package testutil holds request builders and response assertions shared by
// handler tests.
//
// Response helpers drain the recorder body, so use one per recorder.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest marshals body and sets the JSON content type. A nil body
// sends no payload.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewRequestWithBody sends body verbatim, e.g. malformed JSON.
func NewRequestWithBody(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// DoRequest serves req and returns the recorded response.
func DoRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func ReadBody(t *testing.T, rr *httptest.ResponseRecorder) []byte {
	t.Helper()
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err, "read response body")
	return body
}

// UnmarshalResponse decodes the body into a T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ReadBody(t, rr), &out), "decode response body")
	return &out
}

// UnmarshalErrorResponse decodes the failure envelope generically.
func UnmarshalErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return *UnmarshalResponse[map[string]any](t, rr)
}

func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rr.Code, "status code")
}

func AssertStatusOK(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	AssertStatus(t, rr, http.StatusOK)
}

// AssertStatusAndError checks the status and the failure envelope's code.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	AssertStatus(t, rr, wantStatus)
	body := UnmarshalErrorResponse(t, rr)
	assert.Equal(t, false, body["success"], "failure envelope reports success=false")
	assert.Equal(t, wantCode, body["error"], "error code")
}

// AssertJSONContains checks one top-level key of a JSON object body.
func AssertJSONContains(t *testing.T, rr *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	body := *UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, want, body[key], "value of %q", key)
}
