package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Medicine is one line of a prescription. Dosage may be empty.
type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// Prescription is an uploaded prescription photograph plus what analysis
// and manual correction made of it.
type Prescription struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UploadID         string    `db:"upload_id" json:"upload_id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName      string    `db:"-" json:"patient_name,omitempty"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	ImageRef         string    `db:"image_ref" json:"image_ref"`
	ContentType      string    `db:"content_type" json:"content_type"`

	DoctorName       *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	HospitalName     *string    `db:"hospital_name" json:"hospital_name,omitempty"`
	PrescriptionDate *time.Time `db:"prescription_date" json:"prescription_date,omitempty"`
	Diagnosis        *string    `db:"diagnosis" json:"diagnosis,omitempty"`

	RawExtractedText *string        `db:"raw_extracted_text" json:"raw_extracted_text,omitempty"`
	Medicines        []Medicine     `json:"medicines"`
	AnalysisStatus   AnalysisStatus `db:"analysis_status" json:"analysis_status"`
	RiskLevel        *string        `db:"risk_level" json:"risk_level,omitempty"`
	Alerts           *string        `db:"alerts" json:"alerts,omitempty"`
	FailureReason    *string        `db:"failure_reason" json:"failure_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
