package domains

import (
	"time"

	"github.com/google/uuid"
)

// Domain is a DNS name Driftmail serves aliases on.
type Domain struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
