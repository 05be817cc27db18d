package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmail/driftmail/internal/database"
)

// pendingUniqueConstraint is the partial unique index over (subject, scope)
// restricted to status = 'pending'. See migrations/001_init.up.sql.
const pendingUniqueConstraint = "pending_confirmations_subject_scope_live"

const pendingColumns = `id, subject, scope, intent, payload, secret_digest, status,
	send_count, created_at, last_sent_at, expires_at, confirmed_at`

// Repository persists pending confirmations in PostgreSQL.
type Repository struct {
	db    *pgxpool.Pool
	retry database.RetryConfig
}

// NewRepository creates a Repository using the given retry bounds for its
// transactions.
func NewRepository(db *pgxpool.Pool, retry database.RetryConfig) *Repository {
	return &Repository{db: db, retry: retry}
}

// InTx implements Store. All StoreOps issued by fn run on one transaction
// with rollback-on-error; transient lock conflicts restart fn from scratch.
func (r *Repository) InTx(ctx context.Context, fn func(ops StoreOps) error) error {
	return database.RunTx(ctx, r.db, r.retry, func(ctx context.Context, tx pgx.Tx) error {
		return fn(&txOps{tx: tx})
	})
}

// Sweep deletes non-confirmed rows whose expiry has passed. Confirmed rows
// are kept as the audit trail of applied mutations. Safe to call from a
// background goroutine.
func (r *Repository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM pending_confirmations WHERE status <> 'confirmed' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired confirmations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// txOps binds StoreOps to a single open transaction.
type txOps struct {
	tx pgx.Tx
}

func (o *txOps) ExpireStale(ctx context.Context, subject string, scope Scope, now time.Time) error {
	_, err := o.tx.Exec(ctx,
		`UPDATE pending_confirmations SET status = 'expired'
		 WHERE subject = $1 AND scope = $2 AND status = 'pending' AND expires_at <= $3`,
		subject, scope, now)
	if err != nil {
		return fmt.Errorf("expire stale confirmations: %w", err)
	}
	return nil
}

func (o *txOps) GetForUpdate(ctx context.Context, subject string, scope Scope, now time.Time) (*Pending, error) {
	row := o.tx.QueryRow(ctx,
		`SELECT `+pendingColumns+`
		 FROM pending_confirmations
		 WHERE subject = $1 AND scope = $2 AND status = 'pending' AND expires_at > $3
		 FOR UPDATE`,
		subject, scope, now)
	return scanPending(row)
}

func (o *txOps) Insert(ctx context.Context, p *Pending) error {
	_, err := o.tx.Exec(ctx,
		`INSERT INTO pending_confirmations
		 (id, subject, scope, intent, payload, secret_digest, status, send_count, created_at, last_sent_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Subject, p.Scope, p.Intent, p.Payload, p.SecretDigest,
		p.Status, p.SendCount, p.CreatedAt, p.LastSentAt, p.ExpiresAt)
	if err != nil {
		if database.IsUniqueViolation(err, pendingUniqueConstraint) {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert pending confirmation: %w", err)
	}
	return nil
}

func (o *txOps) Rotate(ctx context.Context, id uuid.UUID, digest string, sentAt time.Time) error {
	tag, err := o.tx.Exec(ctx,
		`UPDATE pending_confirmations
		 SET secret_digest = $2, send_count = send_count + 1, last_sent_at = $3
		 WHERE id = $1`,
		id, digest, sentAt)
	if err != nil {
		return fmt.Errorf("rotate confirmation secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPending
	}
	return nil
}

func (o *txOps) GetByDigest(ctx context.Context, digest string, now time.Time) (*Pending, error) {
	row := o.tx.QueryRow(ctx,
		`SELECT `+pendingColumns+`
		 FROM pending_confirmations
		 WHERE secret_digest = $1 AND status = 'pending' AND expires_at > $2`,
		digest, now)
	return scanPending(row)
}

func (o *txOps) Confirm(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	// The conditional update is the sole guard against double redemption: a
	// concurrent second redeemer affects zero rows.
	tag, err := o.tx.Exec(ctx,
		`UPDATE pending_confirmations
		 SET status = 'confirmed', confirmed_at = $2
		 WHERE id = $1 AND status = 'pending' AND expires_at > $2`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("confirm pending row: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPending(row pgx.Row) (*Pending, error) {
	p := &Pending{}
	err := row.Scan(
		&p.ID, &p.Subject, &p.Scope, &p.Intent, &p.Payload, &p.SecretDigest,
		&p.Status, &p.SendCount, &p.CreatedAt, &p.LastSentAt, &p.ExpiresAt, &p.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPending
		}
		return nil, fmt.Errorf("scan pending confirmation: %w", err)
	}
	return p, nil
}
