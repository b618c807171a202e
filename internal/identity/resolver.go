// Package identity maps wallet addresses to canonical directory identities.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"humanitylink/internal/audit"
	"humanitylink/internal/identity/cache"
	"humanitylink/internal/identity/models"
	"humanitylink/internal/platform/metrics"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/sentinel"
	"humanitylink/pkg/requestcontext"
	"humanitylink/pkg/wallet"
)

// DefaultPageSize is the listing page size when none is configured.
const DefaultPageSize = 100

// maxPages stops a directory that keeps handing out cursors.
const maxPages = 10_000

// Directory is the subset of the identity directory the resolver needs.
type Directory interface {
	ListUsers(ctx context.Context, cursor string, limit int) (*models.UserPage, error)
	CreateUser(ctx context.Context, address string) (*models.DirectoryUser, error)
}

// Cache stores resolved identities by normalized wallet. Get returns
// sentinel.ErrNotFound on a miss.
type Cache interface {
	Get(ctx context.Context, walletKey string) (*models.Identity, error)
	Set(ctx context.Context, walletKey string, identity *models.Identity) error
}

// Resolver returns the single directory identity linked to a wallet,
// creating it on first use. Concurrent resolutions of one wallet within the
// process share a single directory lookup and at most one creation.
type Resolver struct {
	directory Directory
	cache     Cache
	pageSize  int
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   *audit.Publisher
}

type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithPageSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithAuditor(p *audit.Publisher) Option {
	return func(r *Resolver) {
		r.auditor = p
	}
}

// NewResolver creates a resolver. Without WithCache an in-memory cache is used.
func NewResolver(directory Directory, opts ...Option) *Resolver {
	r := &Resolver{
		directory: directory,
		cache:     cache.NewInMemory(0),
		pageSize:  DefaultPageSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity linked to walletAddress, creating one when the
// directory has none. subjectHint is the caller's own belief about the
// subject; it is audited and compared but never trusted.
func (r *Resolver) Resolve(ctx context.Context, walletAddress, subjectHint string) (*models.Identity, error) {
	return r.resolve(ctx, walletAddress, subjectHint, true)
}

// Lookup is Resolve without creation. A wallet with no identity yields
// CodeNotFound.
func (r *Resolver) Lookup(ctx context.Context, walletAddress string) (*models.Identity, error) {
	return r.resolve(ctx, walletAddress, "", false)
}

func (r *Resolver) resolve(ctx context.Context, walletAddress, subjectHint string, create bool) (*models.Identity, error) {
	key, err := wallet.Normalize(walletAddress)
	if err != nil {
		return nil, err
	}

	if id := r.cached(ctx, key); id != nil {
		r.metrics.IncrementResolution("cache_hit")
		r.checkHint(ctx, id, subjectHint)
		return id, nil
	}

	flight := "lookup:" + key
	if create {
		flight = "resolve:" + key
	}
	// The shared call must finish even if this caller goes away, so other
	// waiters and the directory never see a half-done creation.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(flight, func() (any, error) {
		return r.resolveUncached(detached, key, walletAddress, subjectHint, create)
	})

	select {
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "identity resolution abandoned by caller")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		id := *res.Val.(*models.Identity)
		r.checkHint(ctx, &id, subjectHint)
		return &id, nil
	}
}

func (r *Resolver) resolveUncached(ctx context.Context, key, walletAddress, subjectHint string, create bool) (*models.Identity, error) {
	matches, err := r.findByWallet(ctx, key)
	if err != nil {
		r.metrics.IncrementResolution(string(dErrors.CodeDirectoryUnreachable))
		r.logger.ErrorContext(ctx, "identity directory lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"wallet", wallet.Redact(walletAddress),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeDirectoryUnreachable, "identity directory is unavailable")
	}

	switch {
	case len(matches) > 1:
		r.metrics.IncrementResolution(string(dErrors.CodeAmbiguousMatch))
		r.logger.ErrorContext(ctx, "wallet linked to multiple identities",
			"request_id", requestcontext.RequestID(ctx),
			"wallet", wallet.Redact(walletAddress),
			"matches", len(matches),
		)
		return nil, dErrors.New(dErrors.CodeAmbiguousMatch, "wallet is linked to more than one identity")
	case len(matches) == 1:
		r.metrics.IncrementResolution("found")
		id := matches[0]
		r.remember(ctx, key, id)
		return id, nil
	case !create:
		r.metrics.IncrementResolution("not_found")
		return nil, dErrors.New(dErrors.CodeNotFound, "no identity is linked to this wallet")
	}

	kind, _ := wallet.Classify(walletAddress)
	address := key
	if kind == wallet.KindSolana {
		// base58 is case-sensitive; keep the caller's spelling.
		address = strings.TrimSpace(walletAddress)
	}
	user, err := r.directory.CreateUser(ctx, address)
	if err != nil {
		code, msg := dErrors.CodeDirectoryUnreachable, "identity directory is unavailable"
		if errors.Is(err, sentinel.ErrRejected) {
			code, msg = dErrors.CodeDirectoryRejected, "identity directory rejected the wallet"
		}
		r.metrics.IncrementResolution(string(code))
		r.logger.ErrorContext(ctx, "identity creation failed",
			"request_id", requestcontext.RequestID(ctx),
			"wallet", wallet.Redact(walletAddress),
			"error", err,
		)
		return nil, dErrors.Wrap(err, code, msg)
	}

	id := user.ToIdentity(address)
	r.metrics.IncrementResolution("created")
	r.metrics.IncrementIdentitiesCreated(string(kind))
	r.logger.InfoContext(ctx, "identity created",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", id.ID,
		"wallet", wallet.Redact(walletAddress),
	)
	r.auditor.Emit(ctx, audit.Event{
		Action:      audit.ActionIdentityCreated,
		IdentityID:  id.ID,
		Wallet:      wallet.Redact(walletAddress),
		SubjectHint: subjectHint,
	})
	r.remember(ctx, key, id)
	return id, nil
}

// findByWallet walks every page. Filtering is client-side because the
// directory's list endpoint has no address filter.
func (r *Resolver) findByWallet(ctx context.Context, key string) ([]*models.Identity, error) {
	var matches []*models.Identity
	seen := make(map[string]bool)
	cursor := ""
	for range maxPages {
		page, err := r.directory.ListUsers(ctx, cursor, r.pageSize)
		if err != nil {
			return nil, err
		}
		for _, user := range page.Data {
			if acct, ok := user.WalletAccount(key); ok && !seen[user.ID] {
				seen[user.ID] = true
				matches = append(matches, user.ToIdentity(acct.Address))
			}
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return matches, nil
		}
		cursor = page.NextCursor
	}
	return nil, errors.New("directory listing did not terminate")
}

func (r *Resolver) cached(ctx context.Context, key string) *models.Identity {
	id, err := r.cache.Get(ctx, key)
	if err == nil {
		return id
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		r.logger.WarnContext(ctx, "identity cache read failed", "error", err)
	}
	return nil
}

func (r *Resolver) remember(ctx context.Context, key string, id *models.Identity) {
	if err := r.cache.Set(ctx, key, id); err != nil {
		r.logger.WarnContext(ctx, "identity cache write failed", "identity_id", id.ID, "error", err)
	}
}

func (r *Resolver) checkHint(ctx context.Context, id *models.Identity, subjectHint string) {
	if subjectHint != "" && subjectHint != id.ID {
		r.logger.WarnContext(ctx, "subject hint does not match resolved identity",
			"request_id", requestcontext.RequestID(ctx),
			"identity_id", id.ID,
			"subject_hint", subjectHint,
		)
	}
}
