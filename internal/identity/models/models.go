package models

import (
	"time"

	"humanitylink/pkg/wallet"
)

// LinkedAccountWallet is the directory account type for a wallet address.
const LinkedAccountWallet = "wallet"

// Identity is the canonical directory subject for one wallet address.
// Identities are never mutated once resolved.
type Identity struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// LinkedAccount is one credential attached to a directory user.
type LinkedAccount struct {
	Type      string `json:"type"`
	Address   string `json:"address,omitempty"`
	ChainType string `json:"chain_type,omitempty"`
}

// DirectoryUser is the directory's representation of a subject.
type DirectoryUser struct {
	ID             string          `json:"id"`
	CreatedAt      int64           `json:"created_at"`
	LinkedAccounts []LinkedAccount `json:"linked_accounts"`
	CustomMetadata map[string]any  `json:"custom_metadata,omitempty"`
}

// UserPage is one page of a directory listing.
type UserPage struct {
	Data       []DirectoryUser `json:"data"`
	NextCursor string          `json:"next_cursor"`
}

// WalletAccount returns the linked wallet account whose address matches
// walletKey case-insensitively.
func (u DirectoryUser) WalletAccount(walletKey string) (LinkedAccount, bool) {
	for _, acct := range u.LinkedAccounts {
		if acct.Type == LinkedAccountWallet && wallet.Equal(acct.Address, walletKey) {
			return acct, true
		}
	}
	return LinkedAccount{}, false
}

// ToIdentity builds the Identity for the given linked wallet address.
func (u DirectoryUser) ToIdentity(address string) *Identity {
	return &Identity{
		ID:            u.ID,
		WalletAddress: address,
		CreatedAt:     time.Unix(u.CreatedAt, 0).UTC(),
	}
}
