package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateUpload is returned by Create when the upload id is taken.
var ErrDuplicateUpload = errors.New("duplicate upload id")

// Repository persists prescriptions together with their ordered medicine
// list. Lookups of missing records return apperr.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByUploadID(ctx context.Context, uploadID string) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)

	// UpdateAnalysis writes the analysis fields only if the stored status
	// still equals expected, returning ErrStaleStatus otherwise. Medicines
	// are replaced when p has finished successfully.
	UpdateAnalysis(ctx context.Context, p *Prescription, expected AnalysisStatus) error

	// UpdateCorrection writes the manually corrected fields, and the
	// medicine list when replaceMedicines is set. It never changes the
	// analysis status.
	UpdateCorrection(ctx context.Context, p *Prescription, replaceMedicines bool) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// replacesMedicines reports whether an analysis update to status carries a
// freshly parsed medicine list.
func replacesMedicines(status AnalysisStatus) bool {
	return status == StatusCompleted || status == StatusRiskDetected
}
