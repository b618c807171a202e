// Package handler exposes the age attestation over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"humanitylink/internal/attestation"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/httputil"
	"humanitylink/pkg/requestcontext"
)

// Attestor runs one attestation against the proof backend.
type Attestor interface {
	Invoke(ctx context.Context, req attestation.Request) (*attestation.Result, error)
}

// Handler serves POST /attest.
type Handler struct {
	attestor  Attestor
	threshold int
	logger    *slog.Logger
}

// New creates an attestation handler. threshold is the minimum age in years.
func New(attestor Attestor, threshold int, logger *slog.Logger) *Handler {
	return &Handler{attestor: attestor, threshold: threshold, logger: logger}
}

// Register mounts the attestation route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/attest", h.HandleAttest)
}

// AttestRequest is the body of POST /attest.
type AttestRequest struct {
	BirthYear *int `json:"birthYear"`
}

// AttestResponse reports the verdict. The birth year is never echoed back.
type AttestResponse struct {
	Success     bool   `json:"success"`
	Verdict     bool   `json:"verdict"`
	IsAdult     bool   `json:"isAdult"`
	CurrentYear int    `json:"currentYear"`
	Message     string `json:"message"`
}

// HandleAttest proves birthYear + threshold <= current year without
// revealing the birth year.
func (h *Handler) HandleAttest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AttestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.BirthYear == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "birthYear is required"))
		return
	}

	currentYear := requestcontext.Now(ctx).Year()
	if *req.BirthYear > currentYear {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "birthYear cannot be in the future"))
		return
	}

	result, err := h.attestor.Invoke(ctx, attestation.Request{
		Subject:   *req.BirthYear,
		Reference: currentYear,
		Threshold: h.threshold,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "attestation request failed",
			"request_id", requestcontext.RequestID(ctx),
			"error_code", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}

	message := "Age < " + strconv.Itoa(h.threshold)
	if result.Verdict {
		message = "Age ≥ " + strconv.Itoa(h.threshold) + " verified"
	}
	httputil.WriteJSON(w, http.StatusOK, AttestResponse{
		Success:     true,
		Verdict:     result.Verdict,
		IsAdult:     result.Verdict,
		CurrentYear: result.Reference,
		Message:     message,
	})
}
