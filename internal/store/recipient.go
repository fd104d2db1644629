package store

import (
	"encoding/json"
	"time"
)

// Status represents the delivery status of a recipient
type Status string

const (
	StatusFresh         Status = "FRESH"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusSuccess       Status = "SUCCESS"
	StatusFailRetryable Status = "FAIL_RETRYABLE"
	StatusFailPerm      Status = "FAIL_PERM"
)

// Terminal reports whether the status is final. Terminal recipients are
// never leased again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailPerm
}

// Recipient is one message target, unique per (profile, normalized key)
type Recipient struct {
	ID               string    `json:"id"`
	ProfileID        uint64    `json:"profile_id"`
	RawInput         string    `json:"raw_input"`
	NormalizedKey    string    `json:"normalized_key"`
	Status           Status    `json:"status"`
	Attempts         int       `json:"attempts"`
	LastErrorCode    string    `json:"last_error_code,omitempty"`
	LastErrorMsg     string    `json:"last_error_msg,omitempty"`
	LastEvidencePath string    `json:"last_evidence_path,omitempty"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
	LastStartedAt    time.Time `json:"last_started_at,omitempty"`
	NextAttemptAfter time.Time `json:"next_attempt_after,omitempty"`
	HeartbeatAt      time.Time `json:"heartbeat_at,omitempty"`
}

// Completion is the terminal or retry outcome applied to a leased recipient
type Completion struct {
	Status           Status
	ErrorCode        string
	ErrorMsg         string
	EvidencePath     string
	NextAttemptAfter time.Time
}

// InvalidInput is an import line rejected by normalization
type InvalidInput struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// ImportReport is the exact accounting of one import batch:
// Added + Duplicates + len(Invalid) equals the number of non-blank,
// non-comment input lines.
type ImportReport struct {
	Added      int            `json:"added"`
	Duplicates int            `json:"duplicates"`
	Invalid    []InvalidInput `json:"invalid"`
}

// EventType identifies an entry in the per-recipient event log
type EventType string

const (
	EventQueue     EventType = "QUEUE"
	EventStart     EventType = "START"
	EventResult    EventType = "RESULT"
	EventRecovered EventType = "RECOVERED"
)

// Event is an append-only audit record. The engine never reads events back
// for control decisions; they exist for display and debugging.
type Event struct {
	RecipientID string          `json:"recipient_id"`
	Type        EventType       `json:"type"`
	At          time.Time       `json:"at"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ListFilter represents filter options for listing recipients
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
