package audit

import "time"

// Action names an auditable change to identity or profile state.
type Action string

const (
	ActionIdentityCreated Action = "identity_created"
	ActionProfileStored   Action = "profile_stored"
	ActionProfileUpdated  Action = "profile_updated"
	ActionProfileDeleted  Action = "profile_deleted"
)

// Event is emitted from domain logic to capture key actions. It never
// carries profile field values, and the wallet is kept in redacted form.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	IdentityID  string    `json:"identity_id"`
	Wallet      string    `json:"wallet,omitempty"`
	SubjectHint string    `json:"subject_hint,omitempty"`
	Version     int       `json:"version,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}
