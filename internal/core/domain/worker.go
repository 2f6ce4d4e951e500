package domain

import "time"

// WorkerStatus represents the lifecycle state of a worker's credentials.
type WorkerStatus string

const (
	WorkerActive         WorkerStatus = "active"
	WorkerRevoked        WorkerStatus = "revoked"
	WorkerUpdateRequired WorkerStatus = "update_required"
)

const (
	// CredentialValidity is how long a freshly issued bearer token stays valid.
	CredentialValidity = 90 * 24 * time.Hour
	// RenewalThreshold is the remaining lifetime below which a successor
	// token is minted.
	RenewalThreshold = 7 * 24 * time.Hour
	// StaleAfter is how long a connected worker may stay silent before the
	// reaper clears its connection flag.
	StaleAfter = 5 * time.Minute

	NameMinLength = 3
	NameMaxLength = 100
)

// PendingCredential is a successor token that has been issued but not yet
// acknowledged by the worker.
type PendingCredential struct {
	Hash      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Worker is the durable record for one remote compute agent.
type Worker struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	TokenHash      string             `json:"-"`
	TokenExpiresAt time.Time          `json:"token_expires_at"`
	Pending        *PendingCredential `json:"pending,omitempty"`
	Status         WorkerStatus       `json:"status"`

	// Connection bookkeeping is advisory. A live actor is the source of
	// truth while the process is up.
	Connected          bool      `json:"connected"`
	LastConnectedAt    time.Time `json:"last_connected_at,omitempty"`
	LastDisconnectedAt time.Time `json:"last_disconnected_at,omitempty"`
	LastSeenAt         time.Time `json:"last_seen_at,omitempty"`
	LastIP             string    `json:"last_ip,omitempty"`

	RenewalFailureReason string    `json:"renewal_failure_reason,omitempty"`
	RenewalFailedAt      time.Time `json:"renewal_failed_at,omitempty"`
	RenewalRetryCount    int       `json:"renewal_retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate shared state through the
// Pending pointer.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	if w.Pending != nil {
		p := *w.Pending
		c.Pending = &p
	}
	return &c
}

func (w *Worker) IsRevoked() bool { return w.Status == WorkerRevoked }

func (w *Worker) HasPending() bool { return w.Pending != nil && w.Pending.Hash != "" }

// LastActivity is the most recent moment the worker was known to be alive.
func (w *Worker) LastActivity() time.Time {
	if w.LastSeenAt.After(w.LastConnectedAt) {
		return w.LastSeenAt
	}
	return w.LastConnectedAt
}

// IsStale reports whether the worker claims to be connected but has shown no
// activity since cutoff.
func (w *Worker) IsStale(cutoff time.Time) bool {
	return w.Connected && w.LastActivity().Before(cutoff)
}

// NeedsRenewal reports whether a successor token should be minted: no
// rotation is in flight and the current token expires within threshold.
func (w *Worker) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	if w.HasPending() {
		return false
	}
	return w.TokenExpiresAt.Sub(now) < threshold
}
