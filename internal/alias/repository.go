package alias

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

// ErrNotFound is returned when no alias exists at the given address.
var ErrNotFound = errors.New("alias not found")

// ErrOwnerMismatch is returned when a delete targets an alias owned by a
// different destination. Ownership can legitimately change between a request
// and its confirmation; the mismatch is reported, never silently ignored.
var ErrOwnerMismatch = errors.New("alias owned by a different destination")

const aliasColumns = `id, address, local_part, domain, destination, active, domain_id, created_at, updated_at`

// Repository provides race-safe alias mutations against PostgreSQL.
type Repository struct {
	db    *pgxpool.Pool
	retry database.RetryConfig
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool, retry database.RetryConfig) *Repository {
	return &Repository{db: db, retry: retry}
}

// CreateIfAbsent inserts the alias unless its address is already taken,
// locking the candidate row first so N identical concurrent requests yield
// exactly one insert. Returns created=false with the existing row when the
// address exists.
func (r *Repository) CreateIfAbsent(ctx context.Context, a *Alias) (created bool, existing *Alias, err error) {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	err = database.RunTx(ctx, r.db, r.retry, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+aliasColumns+` FROM aliases WHERE address = $1 FOR UPDATE`, a.Address)
		found, scanErr := scanAlias(row)
		if scanErr == nil {
			created = false
			existing = found
			return nil
		}
		if !errors.Is(scanErr, ErrNotFound) {
			return scanErr
		}

		_, execErr := tx.Exec(ctx,
			`INSERT INTO aliases (id, address, local_part, domain, destination, active, domain_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.Address, a.LocalPart, a.Domain, a.Destination, a.Active, a.DomainID, a.CreatedAt, a.UpdatedAt)
		if execErr != nil {
			return execErr
		}
		created = true
		return nil
	})
	if err != nil {
		// The candidate row did not exist at SELECT time but materialized
		// before our INSERT committed. Resolve the race as already-exists.
		if database.IsUniqueViolation(err, "aliases_address_key") {
			found, getErr := r.GetByAddress(ctx, a.Address)
			if getErr != nil {
				return false, nil, fmt.Errorf("resolve insert race for %s: %w", a.Address, getErr)
			}
			return false, found, nil
		}
		return false, nil, fmt.Errorf("create alias %s: %w", a.Address, err)
	}
	return created, existing, nil
}

// DeleteIfOwned removes the alias at address only when it is owned by
// expectedOwner. The owner is re-read under lock inside the same transaction
// as the delete.
func (r *Repository) DeleteIfOwned(ctx context.Context, address, expectedOwner string) error {
	err := database.RunTx(ctx, r.db, r.retry, func(ctx context.Context, tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx,
			`SELECT destination FROM aliases WHERE address = $1 FOR UPDATE`, address,
		).Scan(&owner)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock alias: %w", err)
		}
		if owner != expectedOwner {
			return ErrOwnerMismatch
		}
		if _, err := tx.Exec(ctx, `DELETE FROM aliases WHERE address = $1`, address); err != nil {
			return fmt.Errorf("delete alias: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOwnerMismatch) || errors.Is(err, database.ErrBusy) {
			return err
		}
		return fmt.Errorf("delete alias %s: %w", address, err)
	}
	return nil
}

// GetByAddress returns the alias at the given address.
func (r *Repository) GetByAddress(ctx context.Context, address string) (*Alias, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+aliasColumns+` FROM aliases WHERE address = $1`, address)
	return scanAlias(row)
}

// ListByDestination returns all aliases forwarding to the given mailbox.
func (r *Repository) ListByDestination(ctx context.Context, destination string) ([]*Alias, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+aliasColumns+` FROM aliases WHERE destination = $1 ORDER BY created_at`, destination)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []*Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlias(row pgx.Row) (*Alias, error) {
	a := &Alias{}
	err := row.Scan(&a.ID, &a.Address, &a.LocalPart, &a.Domain, &a.Destination,
		&a.Active, &a.DomainID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan alias: %w", err)
	}
	return a, nil
}
