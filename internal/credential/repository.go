package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a credential lookup finds no matching row.
var ErrNotFound = errors.New("credential not found")

// Repository persists API credentials in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert stores a new credential row.
func (r *Repository) Insert(ctx context.Context, c *Credential) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_credentials (id, owner_subject, secret_digest, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.OwnerSubject, c.SecretDigest, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// Revoke marks a credential revoked. Idempotent: revoking an already-revoked
// credential affects no rows and returns nil; ErrNotFound means no such id.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_credentials SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, now)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM api_credentials WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check credential: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// ListByOwner returns the credentials minted for a subject, newest first.
func (r *Repository) ListByOwner(ctx context.Context, owner string) ([]*Credential, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_subject, secret_digest, created_at, expires_at, revoked_at
		 FROM api_credentials WHERE owner_subject = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c := &Credential{}
		if err := rows.Scan(&c.ID, &c.OwnerSubject, &c.SecretDigest,
			&c.CreatedAt, &c.ExpiresAt, &c.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteExpired removes credentials past their expiry. Returns the number of
// rows removed. Safe to call from a background goroutine.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM api_credentials WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}
