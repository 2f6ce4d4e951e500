// Package protocol defines the JSON messages exchanged with workers over the
// gateway transport, the error codes they carry, and the close codes used to
// end a session.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client → server.
const (
	TypeAuth         = "auth"
	TypeMetrics      = "metrics"
	TypeMetricsBatch = "metrics_batch"
	TypeRenewalAck   = "token_renewal_ack"
)

// Server → client.
const (
	TypeAuthOK       = "auth_ok"
	TypeAuthError    = "auth_error"
	TypeMetricsAck   = "metrics_ack"
	TypeMetricsError = "metrics_error"
	TypeTokenRenewal = "token_renewal"
	TypeRevoked      = "revoked"
	TypeError        = "error"
)

// Close codes (RFC 6455 §7.4.1).
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	ClosePolicy        = 1008
	CloseInternalError = 1011
)

// Error codes carried in auth_error, metrics_error and error messages.
const (
	CodeInvalidFormat        = "invalid_format"
	CodeMissingFields        = "missing_fields"
	CodeNotFound             = "not_found"
	CodeAlreadyConnected     = "already_connected"
	CodeRevoked              = "revoked"
	CodeInvalidToken         = "invalid_token"
	CodeTokenExpired         = "token_expired"
	CodeAuthTimeout          = "auth_timeout"
	CodeAuthRequired         = "auth_required"
	CodeInternal             = "internal_error"
	CodeInvalidMessage       = "invalid_message"
	CodeUnknownType          = "unknown_type"
	CodeAlreadyAuthenticated = "already_authenticated"
	CodeInvalidMetrics       = "invalid_metrics"
	CodeInvalidBatch         = "invalid_batch"
	CodeStorageError         = "storage_error"
	CodeNoPendingRenewal     = "no_pending_renewal"
	CodeSuperseded           = "superseded"
)

var ErrMalformed = errors.New("malformed message")

type envelope struct {
	Type string `json:"type"`
}

// DecodeType extracts the message type without decoding the body.
func DecodeType(raw []byte) (string, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", ErrMalformed
	}
	if e.Type == "" {
		return "", ErrMalformed
	}
	return e.Type, nil
}

type AuthRequest struct {
	WorkerID string `json:"worker_id"`
	Token    string `json:"token"`
}

type MetricsBatch struct {
	Metrics json.RawMessage `json:"metrics"`
}

// RenewalAck is the worker's answer to a token_renewal push. Success is a
// pointer so that an ack without the field is treated as malformed rather
// than as a failure.
type RenewalAck struct {
	Success *bool  `json:"success"`
	Error   string `json:"error,omitempty"`
}

type AuthOK struct {
	Type           string    `json:"type"`
	WorkerID       string    `json:"worker_id"`
	Name           string    `json:"name"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	ServerTime     time.Time `json:"server_time"`
}

type Failure struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MetricsAck struct {
	Type     string `json:"type"`
	Received bool   `json:"received"`
	Count    int    `json:"count,omitempty"`
}

type TokenRenewal struct {
	Type      string    `json:"type"`
	NewToken  string    `json:"new_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Revoked struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewAuthOK(workerID, name string, expiresAt, now time.Time) AuthOK {
	return AuthOK{Type: TypeAuthOK, WorkerID: workerID, Name: name, TokenExpiresAt: expiresAt, ServerTime: now}
}

func NewAuthError(code, message string) Failure {
	return Failure{Type: TypeAuthError, Code: code, Message: message}
}

func NewMetricsError(code, message string) Failure {
	return Failure{Type: TypeMetricsError, Code: code, Message: message}
}

func NewError(code, message string) Failure {
	return Failure{Type: TypeError, Code: code, Message: message}
}

func NewMetricsAck(count int) MetricsAck {
	return MetricsAck{Type: TypeMetricsAck, Received: true, Count: count}
}

func NewTokenRenewal(token string, expiresAt time.Time) TokenRenewal {
	return TokenRenewal{Type: TypeTokenRenewal, NewToken: token, ExpiresAt: expiresAt}
}

func NewRevoked(reason string) Revoked {
	return Revoked{Type: TypeRevoked, Reason: reason}
}
