package domains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmail/driftmail/internal/database"
)

// ErrDuplicateName is returned when a domain name is already registered.
var ErrDuplicateName = errors.New("domain already registered")

// Repository persists served domains in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListActiveNames returns the active domain names in insertion order.
func (r *Repository) ListActiveNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name FROM domains WHERE active = true ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active domains: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan domain name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Insert registers a new active domain.
func (r *Repository) Insert(ctx context.Context, name string) (*Domain, error) {
	d := &Domain{ID: uuid.New(), Name: name, Active: true, CreatedAt: time.Now().UTC()}
	_, err := r.db.Exec(ctx,
		`INSERT INTO domains (id, name, active, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Name, d.Active, d.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "domains_name_key") {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("insert domain: %w", err)
	}
	return d, nil
}
