package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

const pgUniqueViolation = "23505"

const workerColumns = `id, name, token_hash, token_expires_at,
       pending_token_hash, pending_expires_at, pending_created_at,
       status, is_connected, last_connected_at, last_disconnected_at, last_seen_at, last_ip,
       renewal_failure_reason, renewal_failed_at, renewal_retry_count,
       created_at, updated_at`

// stale is true when the worker claims a connection but shows no activity
// since $cutoff. GREATEST ignores NULLs.
const staleCondition = `is_connected AND COALESCE(GREATEST(last_seen_at, last_connected_at), 'epoch'::timestamptz) < `

// WorkerRepository implements ports.WorkerRepository. Every mutation is one
// conditional UPDATE.
type WorkerRepository struct {
	db DBTX
}

func NewWorkerRepository(db DBTX) *WorkerRepository {
	return &WorkerRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var (
		w                                         domain.Worker
		status                                    string
		pendingHash, lastIP, failureReason        sql.NullString
		pendingExpires, pendingCreated            sql.NullTime
		lastConnected, lastDisconnected, lastSeen sql.NullTime
		failedAt                                  sql.NullTime
	)
	err := row.Scan(
		&w.ID, &w.Name, &w.TokenHash, &w.TokenExpiresAt,
		&pendingHash, &pendingExpires, &pendingCreated,
		&status, &w.Connected, &lastConnected, &lastDisconnected, &lastSeen, &lastIP,
		&failureReason, &failedAt, &w.RenewalRetryCount,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = domain.WorkerStatus(status)
	w.LastConnectedAt = lastConnected.Time
	w.LastDisconnectedAt = lastDisconnected.Time
	w.LastSeenAt = lastSeen.Time
	w.LastIP = lastIP.String
	w.RenewalFailureReason = failureReason.String
	w.RenewalFailedAt = failedAt.Time
	if pendingHash.Valid && pendingHash.String != "" {
		w.Pending = &domain.PendingCredential{
			Hash:      pendingHash.String,
			ExpiresAt: pendingExpires.Time,
			CreatedAt: pendingCreated.Time,
		}
	}
	return &w, nil
}

func (r *WorkerRepository) Create(ctx context.Context, w *domain.Worker) error {
	query := `INSERT INTO workers (id, name, token_hash, token_expires_at, status, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, w.ID, w.Name, w.TokenHash, w.TokenExpiresAt, string(w.Status), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrWorkerExists
		}
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

func (r *WorkerRepository) FindByID(ctx context.Context, id string) (*domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`

	w, err := scanWorker(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select worker: %w", err)
	}
	return w, nil
}

// exec runs a single-row UPDATE and maps zero affected rows to
// ErrWorkerNotFound.
func (r *WorkerRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) MarkConnected(ctx context.Context, id, ip string, at time.Time) error {
	return r.exec(ctx, `UPDATE workers
              SET is_connected = TRUE, last_connected_at = $2, last_seen_at = $2, last_ip = $3, updated_at = $2
              WHERE id = $1`, id, at, ip)
}

func (r *WorkerRepository) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE workers
              SET is_connected = FALSE, last_disconnected_at = $2, updated_at = $2
              WHERE id = $1`, id, at)
}

func (r *WorkerRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE workers SET is_connected = TRUE, last_seen_at = $2 WHERE id = $1`, id, at)
}

func (r *WorkerRepository) SetPendingCredential(ctx context.Context, id string, p domain.PendingCredential) error {
	err := r.exec(ctx, `UPDATE workers
              SET pending_token_hash = $2, pending_expires_at = $3, pending_created_at = $4, updated_at = $4
              WHERE id = $1 AND pending_token_hash IS NULL`, id, p.Hash, p.ExpiresAt, p.CreatedAt)
	if errors.Is(err, domain.ErrWorkerNotFound) {
		return r.missReason(ctx, id, domain.ErrRotationInFlight)
	}
	return err
}

func (r *WorkerRepository) PromotePendingCredential(ctx context.Context, id string, at time.Time) (*domain.Worker, error) {
	// Right-hand sides read the pre-update row.
	query := `UPDATE workers
              SET token_hash = pending_token_hash,
                  token_expires_at = pending_expires_at,
                  pending_token_hash = NULL,
                  pending_expires_at = NULL,
                  pending_created_at = NULL,
                  status = CASE WHEN status = 'update_required' THEN 'active' ELSE status END,
                  renewal_failure_reason = NULL,
                  renewal_failed_at = NULL,
                  renewal_retry_count = 0,
                  updated_at = $2
              WHERE id = $1 AND pending_token_hash IS NOT NULL
              RETURNING ` + workerColumns

	w, err := scanWorker(r.db.QueryRowContext(ctx, query, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missReason(ctx, id, domain.ErrNoPendingCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("promote pending credential: %w", err)
	}
	return w, nil
}

func (r *WorkerRepository) RecordRenewalFailure(ctx context.Context, id, reason string, at time.Time) (*domain.Worker, error) {
	query := `UPDATE workers
              SET status = CASE WHEN status = 'revoked' THEN status ELSE 'update_required' END,
                  renewal_failure_reason = $2,
                  renewal_failed_at = $3,
                  renewal_retry_count = renewal_retry_count + 1,
                  updated_at = $3
              WHERE id = $1
              RETURNING ` + workerColumns

	w, err := scanWorker(r.db.QueryRowContext(ctx, query, id, reason, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record renewal failure: %w", err)
	}
	return w, nil
}

// missReason tells a missing worker apart from a failed condition.
func (r *WorkerRepository) missReason(ctx context.Context, id string, conditionErr error) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check worker: %w", err)
	}
	if !exists {
		return domain.ErrWorkerNotFound
	}
	return conditionErr
}

func (r *WorkerRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT id FROM workers WHERE ` + staleCondition + `$1 ORDER BY id LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale workers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale worker: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *WorkerRepository) DisconnectIfStale(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	query := `UPDATE workers
              SET is_connected = FALSE, last_disconnected_at = $3, updated_at = $3
              WHERE id = $1 AND ` + staleCondition + `$2`

	res, err := r.db.ExecContext(ctx, query, id, cutoff, at)
	if err != nil {
		return false, fmt.Errorf("disconnect stale worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("disconnect stale worker: %w", err)
	}
	return n > 0, nil
}
