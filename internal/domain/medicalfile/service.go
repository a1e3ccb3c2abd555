package medicalfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medivault/medivault/internal/domain/patient"
	"github.com/medivault/medivault/internal/platform/apperr"
	"github.com/medivault/medivault/internal/platform/blobstore"
	"github.com/medivault/medivault/internal/platform/keylock"
	"github.com/medivault/medivault/internal/platform/pdfconv"
)

// Converter turns uploaded files into a PDF artifact.
type Converter interface {
	Convert(f pdfconv.File) ([]byte, error)
	MergeBatch(ctx context.Context, files []pdfconv.File) ([]byte, error)
	PageCount(data []byte) (int, error)
}

// SubmitFileRequest is a single-file upload.
type SubmitFileRequest struct {
	UploadID    string
	PatientID   uuid.UUID
	RequesterID string
	File        pdfconv.File
	Category    string
	Description string
}

// SubmitBatchRequest is a multi-file upload merged into one PDF.
type SubmitBatchRequest struct {
	UploadID    string
	PatientID   uuid.UUID
	RequesterID string
	Files       []pdfconv.File
	Category    string
	Description string
}

type Service struct {
	repo     Repository
	patients patient.Repository
	blobs    blobstore.Store
	conv     Converter
	locks    keylock.Locker
	logger   zerolog.Logger
}

func NewService(repo Repository, patients patient.Repository, blobs blobstore.Store,
	conv Converter, locks keylock.Locker, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		blobs:    blobs,
		conv:     conv,
		locks:    locks,
		logger:   logger.With().Str("component", "medicalfile").Logger(),
	}
}

// job is the part of a submission that differs between single and batch
// uploads.
type job struct {
	uploadID    string
	patientID   uuid.UUID
	requesterID string
	filename    string
	filetype    string
	suffix      string
	category    string
	description string
	convert     func(ctx context.Context) ([]byte, error)
}

// SubmitFile converts one file to PDF and stores it. Repeating an upload id
// returns the stored record without converting again.
func (s *Service) SubmitFile(ctx context.Context, req SubmitFileRequest) (*MedicalFile, error) {
	if req.File.Name == "" || len(req.File.Data) == 0 {
		return nil, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}
	f := req.File
	return s.submit(ctx, job{
		uploadID:    req.UploadID,
		patientID:   req.PatientID,
		requesterID: req.RequesterID,
		filename:    f.Name,
		filetype:    pdfconv.Extension(f.Name),
		suffix:      ".pdf",
		category:    req.Category,
		description: req.Description,
		convert: func(context.Context) ([]byte, error) {
			return s.conv.Convert(f)
		},
	})
}

// SubmitBatch merges several files into one PDF and stores it.
func (s *Service) SubmitBatch(ctx context.Context, req SubmitBatchRequest) (*MedicalFile, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", apperr.ErrInvalidInput)
	}
	for _, f := range req.Files {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: every file needs a name", apperr.ErrInvalidInput)
		}
	}
	files := req.Files
	return s.submit(ctx, job{
		uploadID:    req.UploadID,
		patientID:   req.PatientID,
		requesterID: req.RequesterID,
		filename:    fmt.Sprintf("Multiple files (%d files)", len(files)),
		filetype:    FileTypeMerged,
		suffix:      "_merged.pdf",
		category:    req.Category,
		description: req.Description,
		convert: func(ctx context.Context) ([]byte, error) {
			return s.conv.MergeBatch(ctx, files)
		},
	})
}

func (s *Service) submit(ctx context.Context, j job) (*MedicalFile, error) {
	if strings.TrimSpace(j.uploadID) == "" {
		return nil, fmt.Errorf("%w: upload id is required", apperr.ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, "medical-file:"+j.uploadID)
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	defer unlock()

	if existing, err := s.repo.GetByUploadID(ctx, j.uploadID); err == nil {
		return s.withPatientName(ctx, existing), nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	owner, err := patient.Authorize(ctx, s.patients, j.patientID, j.requesterID)
	if err != nil {
		return nil, err
	}

	rec := &MedicalFile{
		UploadID:         j.uploadID,
		PatientID:        j.patientID,
		PatientName:      owner.Name,
		OriginalFilename: j.filename,
		OriginalFiletype: j.filetype,
		Category:         optional(j.category),
		Description:      optional(j.description),
		Status:           StatusProcessing,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateUpload) {
			existing, err := s.repo.GetByUploadID(ctx, j.uploadID)
			if err != nil {
				return nil, err
			}
			existing.PatientName = owner.Name
			return existing, nil
		}
		return nil, err
	}

	// Once the row exists it must reach a terminal state even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().Str("upload_id", rec.UploadID).Str("record_id", rec.ID.String()).Logger()
	log.Info().Str("status", string(rec.Status)).Msg("medical file processing")

	pdf, err := j.convert(ctx)
	if err != nil {
		return nil, s.fail(ctx, log, rec, "", err)
	}
	pages, err := s.conv.PageCount(pdf)
	if err != nil {
		return nil, s.fail(ctx, log, rec, "", err)
	}

	name := uuid.NewString() + j.suffix
	obj, err := s.blobs.Put(ctx, name, "application/pdf", bytes.NewReader(pdf))
	if err != nil {
		return nil, s.fail(ctx, log, rec, name, fmt.Errorf("%w: %v", apperr.ErrStorage, err))
	}

	rec.Status = StatusCompleted
	rec.ArtifactRef = &obj.Ref
	rec.PageCount = &pages
	rec.SizeBytes = &obj.Size
	if err := s.repo.Update(ctx, rec); err != nil {
		rec.ArtifactRef, rec.PageCount, rec.SizeBytes = nil, nil, nil
		return nil, s.fail(ctx, log, rec, obj.Ref, fmt.Errorf("%w: %v", apperr.ErrStorage, err))
	}
	log.Info().Str("status", string(rec.Status)).Int("pages", pages).Msg("medical file stored")
	return rec, nil
}

// fail marks rec FAILED, removes any artifact written under ref, and returns
// cause unchanged.
func (s *Service) fail(ctx context.Context, log zerolog.Logger, rec *MedicalFile, ref string, cause error) error {
	msg := cause.Error()
	rec.Status = StatusFailed
	rec.ErrorMessage = &msg
	if err := s.repo.Update(ctx, rec); err != nil {
		log.Error().Err(err).Msg("persist failed status")
	}
	if ref != "" {
		if err := s.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			log.Warn().Err(err).Str("artifact_ref", ref).Msg("remove partial artifact")
		}
	}
	log.Warn().Err(cause).Str("status", string(rec.Status)).Msg("medical file processing failed")
	return cause
}

// withPatientName fills the display name of rec's patient when it can be
// loaded.
func (s *Service) withPatientName(ctx context.Context, rec *MedicalFile) *MedicalFile {
	if p, err := s.patients.GetByID(ctx, rec.PatientID); err == nil {
		rec.PatientName = p.Name
	}
	return rec
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Get returns a record the requester owns through its patient.
func (s *Service) Get(ctx context.Context, id uuid.UUID, requesterID string) (*MedicalFile, error) {
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

// ListByPatient returns the patient's records, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, requesterID string, limit, offset int) ([]*MedicalFile, int, error) {
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

// Delete removes the record. Failing to remove the artifact is logged and
// does not stop the row from being deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, requesterID string) error {
	rec, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return err
	}
	if rec.ArtifactRef != nil {
		if err := s.blobs.Delete(ctx, *rec.ArtifactRef); err != nil {
			s.logger.Warn().Err(err).
				Str("record_id", rec.ID.String()).
				Str("artifact_ref", *rec.ArtifactRef).
				Msg("delete artifact")
		}
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return err
	}
	s.logger.Info().Str("record_id", rec.ID.String()).Str("upload_id", rec.UploadID).Msg("medical file deleted")
	return nil
}

// Download opens the PDF artifact of a completed record.
func (s *Service) Download(ctx context.Context, id uuid.UUID, requesterID string) (io.ReadCloser, *MedicalFile, error) {
	rec, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != StatusCompleted || rec.ArtifactRef == nil {
		return nil, nil, fmt.Errorf("%w: medical file %s has no artifact (status %s)", apperr.ErrNotFound, rec.ID, rec.Status)
	}
	body, _, err := s.blobs.Get(ctx, *rec.ArtifactRef)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, fmt.Errorf("%w: artifact %s", apperr.ErrNotFound, *rec.ArtifactRef)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return body, rec, nil
}
