package store

import (
	"encoding/json"
	"fmt"

	"humanitylink/internal/platform/crypto"
	"humanitylink/internal/profile/models"
)

// sealFields encrypts the confidential fields for their owning identity.
func sealFields(sealer *crypto.Sealer, identityID string, fields models.Fields) ([]byte, error) {
	plain, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode profile fields: %w", err)
	}
	sealed, err := sealer.Seal(identityID, plain)
	if err != nil {
		return nil, fmt.Errorf("seal profile fields: %w", err)
	}
	return sealed, nil
}

func openFields(sealer *crypto.Sealer, identityID string, sealed []byte) (models.Fields, error) {
	plain, err := sealer.Open(identityID, sealed)
	if err != nil {
		return models.Fields{}, fmt.Errorf("open profile fields: %w", err)
	}
	var fields models.Fields
	if err := json.Unmarshal(plain, &fields); err != nil {
		return models.Fields{}, fmt.Errorf("decode profile fields: %w", err)
	}
	return fields, nil
}
