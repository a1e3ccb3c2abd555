package medicalfile

import (
	"time"

	"github.com/google/uuid"
)

// Status is the processing state of an uploaded medical file.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// FileTypeMerged marks records produced from a multi-file upload.
const FileTypeMerged = "merged"

// IsTerminal reports whether no further processing happens for s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MedicalFile is one upload, converted to a single PDF artifact.
type MedicalFile struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UploadID         string    `db:"upload_id" json:"upload_id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName      string    `db:"-" json:"patient_name,omitempty"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	OriginalFiletype string    `db:"original_filetype" json:"original_filetype"`
	ArtifactRef      *string   `db:"artifact_ref" json:"artifact_ref,omitempty"`
	PageCount        *int      `db:"page_count" json:"page_count,omitempty"`
	SizeBytes        *int64    `db:"size_bytes" json:"size_bytes,omitempty"`
	Category         *string   `db:"category" json:"category,omitempty"`
	Description      *string   `db:"description" json:"description,omitempty"`
	Status           Status    `db:"status" json:"status"`
	ErrorMessage     *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
