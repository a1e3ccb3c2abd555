package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the slice of the externally owned patient record this service
// reads: who owns it.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OwnerAccountID string    `db:"owner_account_id" json:"owner_account_id"`
	Name           string    `db:"name" json:"name"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// OwnedBy reports whether accountID owns the patient.
func (p *Patient) OwnedBy(accountID string) bool {
	return p != nil && accountID != "" && p.OwnerAccountID == accountID
}
