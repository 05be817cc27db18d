package alias

import (
	"time"

	"github.com/google/uuid"
)

// Alias is one mail-forwarding address. Address is the natural key
// ("local@domain"); Destination is the owner mailbox mail is forwarded to.
type Alias struct {
	ID          uuid.UUID  `json:"id"`
	Address     string     `json:"address"`
	LocalPart   string     `json:"local_part"`
	Domain      string     `json:"domain"`
	Destination string     `json:"destination"`
	Active      bool       `json:"active"`
	DomainID    *uuid.UUID `json:"domain_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
