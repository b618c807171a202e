package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"humanitylink/internal/platform/crypto"
	"humanitylink/internal/profile/models"
	"humanitylink/pkg/platform/sentinel"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		stmt, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// PostgresStore persists sealed profiles in PostgreSQL. Only the identity id,
// version and timestamps are stored in the clear.
type PostgresStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

func NewPostgres(db *sql.DB, sealer *crypto.Sealer) *PostgresStore {
	return &PostgresStore{db: db, sealer: sealer}
}

func (s *PostgresStore) Get(ctx context.Context, identityID string) (*models.Profile, error) {
	query := `
		SELECT sealed, version, stored_at, updated_at
		FROM confidential_profiles
		WHERE identity_id = $1
	`
	var sealed []byte
	profile := &models.Profile{IdentityID: identityID}
	err := s.db.QueryRowContext(ctx, query, identityID).Scan(
		&sealed,
		&profile.Version,
		&profile.StoredAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	fields, err := openFields(s.sealer, identityID, sealed)
	if err != nil {
		return nil, err
	}
	profile.Fields = fields
	profile.StoredAt = profile.StoredAt.UTC()
	profile.UpdatedAt = profile.UpdatedAt.UTC()
	return profile, nil
}

// Put inserts version 1 or advances version n-1 to n in a single statement.
func (s *PostgresStore) Put(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	if profile.Version < 1 {
		return fmt.Errorf("profile version %d: %w", profile.Version, sentinel.ErrConflict)
	}
	sealed, err := sealFields(s.sealer, profile.IdentityID, profile.Fields)
	if err != nil {
		return err
	}

	var res sql.Result
	if profile.Version == 1 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO confidential_profiles (identity_id, sealed, version, stored_at, updated_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (identity_id) DO NOTHING
		`, profile.IdentityID, sealed, profile.StoredAt, profile.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE confidential_profiles
			SET sealed = $2, version = $3, updated_at = $4
			WHERE identity_id = $1 AND version = $5
		`, profile.IdentityID, sealed, profile.Version, profile.UpdatedAt, profile.Version-1)
	}
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put profile rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile version %d not applied: %w", profile.Version, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, identityID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM confidential_profiles WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete profile rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
