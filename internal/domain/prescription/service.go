package prescription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medivault/medivault/internal/domain/patient"
	"github.com/medivault/medivault/internal/platform/apperr"
	"github.com/medivault/medivault/internal/platform/blobstore"
	"github.com/medivault/medivault/internal/platform/keylock"
	"github.com/medivault/medivault/internal/platform/pdfconv"
)

const dateLayout = "2006-01-02"

// SubmitRequest is a prescription photograph upload.
type SubmitRequest struct {
	UploadID    string
	PatientID   uuid.UUID
	RequesterID string
	File        pdfconv.File
}

// UpdateRequest carries manual corrections. PrescriptionDate is
// YYYY-MM-DD. A nil Medicines leaves the stored list alone; a non-nil one
// replaces it, even when empty.
type UpdateRequest struct {
	DoctorName       *string     `json:"doctorName"`
	HospitalName     *string     `json:"hospitalName"`
	PrescriptionDate *string     `json:"prescriptionDate"`
	Diagnosis        *string     `json:"diagnosis"`
	Medicines        *[]Medicine `json:"medicines"`
}

type Service struct {
	repo       Repository
	patients   patient.Repository
	blobs      blobstore.Store
	locks      keylock.Locker
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewService(repo Repository, patients patient.Repository, blobs blobstore.Store,
	locks keylock.Locker, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		patients:   patients,
		blobs:      blobs,
		locks:      locks,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "prescription").Logger(),
	}
}

// Submit stores the photograph, records it, and queues it for analysis.
// The returned record is QUEUED; analysis continues in the background.
// Repeating an upload id returns the stored record as it is now.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Prescription, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return nil, fmt.Errorf("%w: upload id is required", apperr.ErrInvalidInput)
	}
	if req.File.Name == "" || len(req.File.Data) == 0 {
		return nil, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, "prescription:"+req.UploadID)
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	defer unlock()

	if existing, err := s.repo.GetByUploadID(ctx, req.UploadID); err == nil {
		return s.withPatientName(ctx, existing), nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	owner, err := patient.Authorize(ctx, s.patients, req.PatientID, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if pdfconv.Classify(req.File.Name) != pdfconv.KindImage {
		return nil, fmt.Errorf("%w: %s is not an image", apperr.ErrUnsupportedFormat, req.File.Name)
	}

	ctx = context.WithoutCancel(ctx)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(req.File.Name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ref := uuid.NewString() + "_" + sanitizeName(req.File.Name)
	obj, err := s.blobs.Put(ctx, ref, contentType, bytes.NewReader(req.File.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	rec := &Prescription{
		UploadID:         req.UploadID,
		PatientID:        req.PatientID,
		PatientName:      owner.Name,
		OriginalFilename: req.File.Name,
		ImageRef:         obj.Ref,
		ContentType:      contentType,
		Medicines:        []Medicine{},
		AnalysisStatus:   StatusPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.removeImage(ctx, obj.Ref)
		if errors.Is(err, ErrDuplicateUpload) {
			existing, err := s.repo.GetByUploadID(ctx, req.UploadID)
			if err != nil {
				return nil, err
			}
			existing.PatientName = owner.Name
			return existing, nil
		}
		return nil, err
	}

	log := s.logger.With().Str("upload_id", rec.UploadID).Str("record_id", rec.ID.String()).Logger()
	for _, next := range []AnalysisStatus{StatusUploaded, StatusQueued} {
		from := rec.AnalysisStatus
		if err := rec.Transition(next); err != nil {
			return nil, err
		}
		if err := s.repo.UpdateAnalysis(ctx, rec, from); err != nil {
			return nil, err
		}
	}

	if err := s.dispatcher.Dispatch(ctx, rec.ID); err != nil {
		log.Error().Err(err).Msg("dispatch analysis; record left QUEUED for redrive")
	} else {
		log.Info().Str("status", string(rec.AnalysisStatus)).Msg("prescription queued")
	}
	return rec, nil
}

// Update applies manual corrections without touching the analysis status.
func (s *Service) Update(ctx context.Context, id uuid.UUID, requesterID string, req UpdateRequest) (*Prescription, error) {
	var date *time.Time
	if req.PrescriptionDate != nil && *req.PrescriptionDate != "" {
		d, err := time.Parse(dateLayout, *req.PrescriptionDate)
		if err != nil {
			return nil, fmt.Errorf("%w: prescriptionDate must be YYYY-MM-DD", apperr.ErrInvalidInput)
		}
		date = &d
	}

	rec, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	rec.DoctorName = req.DoctorName
	rec.HospitalName = req.HospitalName
	rec.PrescriptionDate = date
	rec.Diagnosis = req.Diagnosis
	replace := req.Medicines != nil
	if replace {
		rec.Medicines = append([]Medicine{}, (*req.Medicines)...)
	}
	if err := s.repo.UpdateCorrection(ctx, rec, replace); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a prescription the requester owns through its patient.
func (s *Service) Get(ctx context.Context, id uuid.UUID, requesterID string) (*Prescription, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := patient.Authorize(ctx, s.patients, rec.PatientID, requesterID)
	if err != nil {
		return nil, err
	}
	rec.PatientName = owner.Name
	return rec, nil
}

// ListByPatient returns the patient's prescriptions, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, requesterID string, limit, offset int) ([]*Prescription, int, error) {
	owner, err := patient.Authorize(ctx, s.patients, patientID, requesterID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range items {
		rec.PatientName = owner.Name
	}
	return items, total, nil
}

// Delete removes the prescription and, best effort, its image.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, requesterID string) error {
	rec, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return err
	}
	s.removeImage(ctx, rec.ImageRef)
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return err
	}
	s.logger.Info().Str("record_id", rec.ID.String()).Str("upload_id", rec.UploadID).Msg("prescription deleted")
	return nil
}

// withPatientName fills the display name of rec's patient when it can be
// loaded.
func (s *Service) withPatientName(ctx context.Context, rec *Prescription) *Prescription {
	if p, err := s.patients.GetByID(ctx, rec.PatientID); err == nil {
		rec.PatientName = p.Name
	}
	return rec
}

func (s *Service) removeImage(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := s.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("image_ref", ref).Msg("delete prescription image")
	}
}

// sanitizeName keeps a blob name free of path separators.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}
