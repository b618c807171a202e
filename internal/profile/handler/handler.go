// Package handler exposes the confidential profile store over HTTP. Every
// route resolves the wallet to its canonical identity before touching a
// profile.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	identitymodels "humanitylink/internal/identity/models"
	"humanitylink/internal/profile/models"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/httputil"
	"humanitylink/pkg/requestcontext"
	"humanitylink/pkg/wallet"
)

// Resolver maps wallets to identities. Lookup never creates one.
type Resolver interface {
	Resolve(ctx context.Context, walletAddress, subjectHint string) (*identitymodels.Identity, error)
	Lookup(ctx context.Context, walletAddress string) (*identitymodels.Identity, error)
}

// Profiles is the profile lifecycle service.
type Profiles interface {
	CreateOrUpdate(ctx context.Context, identityID string, fields models.Fields) (*models.Profile, error)
	Update(ctx context.Context, identityID string, fields models.Fields) (*models.Profile, error)
	Get(ctx context.Context, identityID string) (*models.Profile, error)
	Delete(ctx context.Context, identityID string) error
}

type Handler struct {
	resolver Resolver
	profiles Profiles
	logger   *slog.Logger
}

func New(resolver Resolver, profiles Profiles, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, profiles: profiles, logger: logger}
}

// Register mounts the profile routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/profile", func(r chi.Router) {
		r.Post("/", h.HandleStore)
		r.Get("/", h.HandleGet)
		r.Put("/", h.HandleUpdate)
		r.Delete("/", h.HandleDelete)
	})
}

// StoreRequest is the body of POST and PUT /profile.
type StoreRequest struct {
	WalletAddress string         `json:"walletAddress"`
	SubjectHint   string         `json:"subjectHint,omitempty"`
	PIIData       *models.Fields `json:"piiData"`
}

func (r StoreRequest) validate() error {
	if strings.TrimSpace(r.WalletAddress) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "walletAddress is required")
	}
	if r.PIIData == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "piiData is required")
	}
	return nil
}

// StoreResponse acknowledges a write. Field values are never echoed.
type StoreResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	IdentityID string    `json:"identityId"`
	Version    int       `json:"version"`
	StoredAt   time.Time `json:"storedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ProfileData is the stored profile as returned by GET /profile.
type ProfileData struct {
	models.Fields
	WalletAddress string    `json:"walletAddress"`
	IdentityID    string    `json:"identityId"`
	Version       int       `json:"version"`
	StoredAt      time.Time `json:"storedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type GetResponse struct {
	Success bool         `json:"success"`
	Data    *ProfileData `json:"data"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleStore creates the profile, and the identity on first use, or
// replaces an existing profile.
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StoreRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Reject bad fields before an identity is created for them.
	if err := req.PIIData.Normalize().Validate(); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, reasonOf(err)))
		return
	}

	identity, err := h.resolver.Resolve(ctx, req.WalletAddress, req.SubjectHint)
	if err != nil {
		h.fail(ctx, w, "resolve identity", req.WalletAddress, err)
		return
	}
	profile, err := h.profiles.CreateOrUpdate(ctx, identity.ID, *req.PIIData)
	if err != nil {
		h.fail(ctx, w, "store profile", req.WalletAddress, err)
		return
	}

	status, message := http.StatusOK, "Data updated successfully"
	if profile.Version == 1 {
		status, message = http.StatusCreated, "Data stored successfully"
	}
	httputil.WriteJSON(w, status, toStoreResponse(profile, message))
}

// HandleUpdate replaces an existing profile. Unknown wallets and wallets
// without a profile both yield 404.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StoreRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.resolver.Lookup(ctx, req.WalletAddress)
	if err != nil {
		h.fail(ctx, w, "lookup identity", req.WalletAddress, err)
		return
	}
	profile, err := h.profiles.Update(ctx, identity.ID, *req.PIIData)
	if err != nil {
		h.fail(ctx, w, "update profile", req.WalletAddress, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStoreResponse(profile, "Data updated successfully"))
}

// HandleGet returns the stored profile for ?wallet=.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	address, err := walletParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := h.resolver.Lookup(ctx, address)
	if err != nil {
		h.fail(ctx, w, "lookup identity", address, err)
		return
	}
	profile, err := h.profiles.Get(ctx, identity.ID)
	if err != nil {
		h.fail(ctx, w, "get profile", address, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, GetResponse{
		Success: true,
		Data: &ProfileData{
			Fields:        profile.Fields,
			WalletAddress: identity.WalletAddress,
			IdentityID:    profile.IdentityID,
			Version:       profile.Version,
			StoredAt:      profile.StoredAt,
			UpdatedAt:     profile.UpdatedAt,
		},
	})
}

// HandleDelete erases the profile for ?wallet=. The identity itself is kept.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	address, err := walletParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := h.resolver.Lookup(ctx, address)
	if err != nil {
		h.fail(ctx, w, "lookup identity", address, err)
		return
	}
	if err := h.profiles.Delete(ctx, identity.ID); err != nil {
		h.fail(ctx, w, "delete profile", address, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Data deleted successfully"})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op, address string, err error) {
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "profile request failed",
			"request_id", requestcontext.RequestID(ctx),
			"op", op,
			"wallet", wallet.Redact(address),
			"error_code", code,
		)
	}
	httputil.WriteError(w, err)
}

func walletParam(r *http.Request) (string, error) {
	address := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if address == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "wallet query parameter is required")
	}
	return address, nil
}

func toStoreResponse(p *models.Profile, message string) StoreResponse {
	return StoreResponse{
		Success:    true,
		Message:    message,
		IdentityID: p.IdentityID,
		Version:    p.Version,
		StoredAt:   p.StoredAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func reasonOf(err error) string {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
