package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository looks up patients. Missing patients return apperr.ErrNotFound.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
