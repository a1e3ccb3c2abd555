package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/medivault/medivault/internal/platform/apperr"
)

// Authorize loads the patient and checks that accountID owns it. It returns
// apperr.ErrNotFound for an unknown patient and apperr.ErrForbidden for
// someone else's.
func Authorize(ctx context.Context, repo Repository, patientID uuid.UUID, accountID string) (*Patient, error) {
	p, err := repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(accountID) {
		return nil, apperr.ErrForbidden
	}
	return p, nil
}
