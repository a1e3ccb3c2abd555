package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medivault/medivault/internal/platform/apperr"
	"github.com/medivault/medivault/internal/platform/blobstore"
	"github.com/medivault/medivault/internal/platform/ocr"
	"github.com/medivault/medivault/internal/platform/risk"
)

// DefaultOCRTimeout bounds a single text extraction call.
const DefaultOCRTimeout = 60 * time.Second

// Pipeline runs OCR, parsing and risk classification for one prescription
// at a time. It touches only the record it is analysing.
type Pipeline struct {
	repo       Repository
	blobs      blobstore.Store
	extractor  ocr.Extractor
	classifier risk.Classifier
	ocrTimeout time.Duration
	logger     zerolog.Logger
}

func NewPipeline(repo Repository, blobs blobstore.Store, extractor ocr.Extractor,
	classifier risk.Classifier, ocrTimeout time.Duration, logger zerolog.Logger) *Pipeline {
	if ocrTimeout <= 0 {
		ocrTimeout = DefaultOCRTimeout
	}
	return &Pipeline{
		repo:       repo,
		blobs:      blobs,
		extractor:  extractor,
		classifier: classifier,
		ocrTimeout: ocrTimeout,
		logger:     logger.With().Str("component", "analysis").Logger(),
	}
}

// RunAnalysis analyses a QUEUED prescription to a terminal status. External
// failures leave the record FAILED and return an apperr.ErrExtraction.
func (p *Pipeline) RunAnalysis(ctx context.Context, id uuid.UUID) error {
	rec, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.AnalysisStatus.IsTerminal() {
		return fmt.Errorf("%w: prescription %s is %s", ErrTerminal, rec.ID, rec.AnalysisStatus)
	}
	if err := p.advance(ctx, rec, StatusProcessing); err != nil {
		return err
	}
	return p.analyze(ctx, rec)
}

// Redrive resumes a prescription a crash left behind. Earlier statuses move
// straight to PROCESSING; a PROCESSING record is analysed again as is.
// Finished records are refused with ErrTerminal.
func (p *Pipeline) Redrive(ctx context.Context, id uuid.UUID) error {
	rec, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.AnalysisStatus.IsTerminal() {
		return fmt.Errorf("%w: prescription %s is %s", ErrTerminal, rec.ID, rec.AnalysisStatus)
	}
	p.logger.Info().Str("record_id", rec.ID.String()).Str("status", string(rec.AnalysisStatus)).Msg("redriving analysis")

	if rec.AnalysisStatus != StatusProcessing {
		if err := p.advance(ctx, rec, StatusProcessing); err != nil {
			return err
		}
	}
	return p.analyze(ctx, rec)
}

// advance moves rec to next and persists it, guarded on the status it was
// read with.
func (p *Pipeline) advance(ctx context.Context, rec *Prescription, next AnalysisStatus) error {
	from := rec.AnalysisStatus
	if err := rec.Transition(next); err != nil {
		return err
	}
	if err := p.repo.UpdateAnalysis(ctx, rec, from); err != nil {
		rec.AnalysisStatus = from
		return err
	}
	p.logger.Debug().Str("record_id", rec.ID.String()).Str("status", string(next)).Msg("analysis status")
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, rec *Prescription) error {
	log := p.logger.With().Str("record_id", rec.ID.String()).Str("upload_id", rec.UploadID).Logger()

	image, err := blobstore.ReadAll(ctx, p.blobs, rec.ImageRef)
	if err != nil {
		return p.fail(ctx, log, rec, fmt.Sprintf("read image: %v", err),
			fmt.Errorf("%w: read image %s: %v", apperr.ErrStorage, rec.ImageRef, err))
	}

	text, err := p.extract(ctx, image)
	if err != nil {
		return p.fail(ctx, log, rec, err.Error(), err)
	}
	rec.RawExtractedText = &text

	meds := ParseMedicines(text)
	drugs := make([]risk.Drug, len(meds))
	for i, m := range meds {
		drugs[i] = risk.Drug{Name: m.Name, Dosage: m.Dosage}
	}
	assessment, err := p.classifier.Classify(ctx, drugs)
	if err != nil {
		return p.fail(ctx, log, rec, fmt.Sprintf("risk classification: %v", err),
			fmt.Errorf("%w: risk classification: %v", apperr.ErrExtraction, err))
	}

	next := StatusCompleted
	if assessment.Flagged() {
		next = StatusRiskDetected
	}
	level := string(assessment.Level)
	alerts := assessment.Alerts()
	rec.Medicines = meds
	rec.RiskLevel = &level
	rec.Alerts = &alerts
	if err := p.advance(ctx, rec, next); err != nil {
		return err
	}
	log.Info().
		Str("status", string(next)).
		Int("medicines", len(meds)).
		Str("risk_level", level).
		Msg("analysis finished")
	return nil
}

// extract runs OCR under the configured timeout. Every failure, including
// the timeout, is an apperr.ErrExtraction.
func (p *Pipeline) extract(ctx context.Context, image []byte) (string, error) {
	octx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
	defer cancel()

	text, err := p.extractor.ExtractText(octx, image)
	if err == nil {
		return text, nil
	}
	if errors.Is(octx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: ocr timed out after %s", apperr.ErrExtraction, p.ocrTimeout)
	}
	if !errors.Is(err, apperr.ErrExtraction) {
		err = fmt.Errorf("%w: %v", apperr.ErrExtraction, err)
	}
	return "", err
}

// fail records reason and moves rec to FAILED, returning cause.
func (p *Pipeline) fail(ctx context.Context, log zerolog.Logger, rec *Prescription, reason string, cause error) error {
	rec.FailureReason = &reason
	if err := p.advance(ctx, rec, StatusFailed); err != nil {
		log.Error().Err(err).Msg("persist failed analysis")
	}
	log.Warn().Err(cause).Str("status", string(rec.AnalysisStatus)).Msg("analysis failed")
	return cause
}
