package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"humanitylink/internal/identity/models"
	"humanitylink/internal/platform/crypto"
	profilemodels "humanitylink/internal/profile/models"
	"humanitylink/pkg/platform/sentinel"
)

// MetadataKey is the custom metadata entry that holds the sealed profile.
const MetadataKey = "confidential_profile"

// UserMetadata is the part of the identity directory the directory-backed
// store needs.
type UserMetadata interface {
	GetUser(ctx context.Context, userID string) (*models.DirectoryUser, error)
	SetCustomMetadata(ctx context.Context, userID string, metadata map[string]any) (*models.DirectoryUser, error)
}

// DirectoryStore keeps each profile in its owner's directory custom metadata.
// The version check is a read followed by a write, so it is only atomic
// within one process.
type DirectoryStore struct {
	users  UserMetadata
	sealer *crypto.Sealer
}

func NewDirectory(users UserMetadata, sealer *crypto.Sealer) *DirectoryStore {
	return &DirectoryStore{users: users, sealer: sealer}
}

// envelope is serialized to a JSON string because directory metadata values
// must be scalars.
type envelope struct {
	Version   int       `json:"version"`
	StoredAt  time.Time `json:"stored_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Sealed    string    `json:"sealed"`
}

func (s *DirectoryStore) Get(ctx context.Context, identityID string) (*profilemodels.Profile, error) {
	user, err := s.users.GetUser(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("get profile owner: %w", err)
	}
	env, ok, err := readEnvelope(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed profile: %w", err)
	}
	fields, err := openFields(s.sealer, identityID, sealed)
	if err != nil {
		return nil, err
	}
	return &profilemodels.Profile{
		IdentityID: identityID,
		Fields:     fields,
		Version:    env.Version,
		StoredAt:   env.StoredAt.UTC(),
		UpdatedAt:  env.UpdatedAt.UTC(),
	}, nil
}

func (s *DirectoryStore) Put(ctx context.Context, profile *profilemodels.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	user, err := s.users.GetUser(ctx, profile.IdentityID)
	if err != nil {
		return fmt.Errorf("get profile owner: %w", err)
	}
	env, exists, err := readEnvelope(user)
	if err != nil {
		return err
	}
	var current *profilemodels.Profile
	if exists {
		current = &profilemodels.Profile{Version: env.Version}
	}
	if err := checkVersion(current, exists, profile.Version); err != nil {
		return err
	}

	sealed, err := sealFields(s.sealer, profile.IdentityID, profile.Fields)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{
		Version:   profile.Version,
		StoredAt:  profile.StoredAt.UTC(),
		UpdatedAt: profile.UpdatedAt.UTC(),
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return fmt.Errorf("encode profile envelope: %w", err)
	}

	metadata := maps.Clone(user.CustomMetadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata[MetadataKey] = string(raw)
	if _, err := s.users.SetCustomMetadata(ctx, profile.IdentityID, metadata); err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (s *DirectoryStore) Delete(ctx context.Context, identityID string) error {
	user, err := s.users.GetUser(ctx, identityID)
	if err != nil {
		return fmt.Errorf("get profile owner: %w", err)
	}
	if _, ok := user.CustomMetadata[MetadataKey]; !ok {
		return sentinel.ErrNotFound
	}
	metadata := maps.Clone(user.CustomMetadata)
	delete(metadata, MetadataKey)
	if _, err := s.users.SetCustomMetadata(ctx, identityID, metadata); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func readEnvelope(user *models.DirectoryUser) (envelope, bool, error) {
	value, ok := user.CustomMetadata[MetadataKey]
	if !ok {
		return envelope{}, false, nil
	}
	raw, isString := value.(string)
	if !isString {
		return envelope{}, false, errors.New("profile metadata entry is not a string")
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, false, fmt.Errorf("decode profile envelope: %w", err)
	}
	return env, true, nil
}
