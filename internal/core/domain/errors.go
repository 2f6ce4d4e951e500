package domain

import "errors"

// Format errors: rejected before any storage access.
var (
	ErrMissingFields      = errors.New("worker_id and token are required")
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrInvalidName        = errors.New("invalid worker name")
)

// Identity errors.
var (
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerExists   = errors.New("worker already exists")
	ErrWorkerRevoked  = errors.New("worker revoked")
)

// Credential errors.
var (
	ErrCredentialMismatch = errors.New("invalid token")
	ErrCredentialExpired  = errors.New("token expired")
)

// Conflict errors.
var (
	ErrAlreadyConnected = errors.New("worker already connected")
	ErrNotConnected     = errors.New("worker not connected")
)

// Rotation errors.
var (
	ErrRotationInFlight    = errors.New("credential rotation already in flight")
	ErrNoPendingCredential = errors.New("no pending credential")
)

// Validation errors.
var (
	ErrInvalidSample = errors.New("invalid telemetry sample")
	ErrInvalidBatch  = errors.New("invalid telemetry batch")
)
