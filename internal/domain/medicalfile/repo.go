package medicalfile

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateUpload is returned by Create when a record with the same
// upload id already exists.
var ErrDuplicateUpload = errors.New("duplicate upload id")

// Repository persists medical file records. Lookups of missing records
// return apperr.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, f *MedicalFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalFile, error)
	GetByUploadID(ctx context.Context, uploadID string) (*MedicalFile, error)
	Update(ctx context.Context, f *MedicalFile) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalFile, int, error)
}
