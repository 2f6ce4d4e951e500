package domain

import "time"

// AuditEvent identifies the kind of credential event being recorded.
type AuditEvent string

const (
	AuditConnected      AuditEvent = "connected"
	AuditCreated        AuditEvent = "created"
	AuditRenewalAttempt AuditEvent = "renewal_attempt"
	AuditRenewed        AuditEvent = "renewed"
	AuditRenewalFailed  AuditEvent = "renewal_failed"
	AuditDeleted        AuditEvent = "deleted"
)

// AuditEntry is one append-only row of the credential audit log. Entries are
// never updated and never consulted for authorization.
type AuditEntry struct {
	ID        string            `json:"id"`
	WorkerID  string            `json:"worker_id"`
	Event     AuditEvent        `json:"event"`
	TokenHash string            `json:"token_hash,omitempty"`
	At        time.Time         `json:"at"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
