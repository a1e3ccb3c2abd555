package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medivault/medivault/internal/platform/apperr"
	"github.com/medivault/medivault/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const prescriptionCols = `id, upload_id, patient_id, original_filename, image_ref, content_type,
	doctor_name, hospital_name, prescription_date, diagnosis,
	raw_extracted_text, analysis_status, risk_level, alerts, failure_reason,
	created_at, updated_at`

func (r *prescriptionRepoPG) scanRow(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.UploadID, &p.PatientID, &p.OriginalFilename, &p.ImageRef, &p.ContentType,
		&p.DoctorName, &p.HospitalName, &p.PrescriptionDate, &p.Diagnosis,
		&p.RawExtractedText, &p.AnalysisStatus, &p.RiskLevel, &p.Alerts, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO prescriptions (id, upload_id, patient_id, original_filename, image_ref, content_type,
				doctor_name, hospital_name, prescription_date, diagnosis,
				raw_extracted_text, analysis_status, risk_level, alerts, failure_reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (upload_id) DO NOTHING
			RETURNING created_at, updated_at`,
			p.ID, p.UploadID, p.PatientID, p.OriginalFilename, p.ImageRef, p.ContentType,
			p.DoctorName, p.HospitalName, p.PrescriptionDate, p.Diagnosis,
			p.RawExtractedText, p.AnalysisStatus, p.RiskLevel, p.Alerts, p.FailureReason,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDuplicateUpload, p.UploadID)
		}
		if err != nil {
			return err
		}
		return r.replaceMedicines(ctx, p.ID, p.Medicines)
	})
}

func (r *prescriptionRepoPG) get(ctx context.Context, where string, arg interface{}) (*Prescription, error) {
	p, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: prescription %v", apperr.ErrNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadMedicines(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *prescriptionRepoPG) GetByUploadID(ctx context.Context, uploadID string) (*Prescription, error) {
	return r.get(ctx, `upload_id = $1`, uploadID)
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+prescriptionCols+` FROM prescriptions
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadMedicines(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *prescriptionRepoPG) UpdateAnalysis(ctx context.Context, p *Prescription, expected AnalysisStatus) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE prescriptions SET analysis_status=$2, raw_extracted_text=$3, risk_level=$4,
				alerts=$5, failure_reason=$6, updated_at=NOW()
			WHERE id = $1 AND analysis_status = $7
			RETURNING updated_at`,
			p.ID, p.AnalysisStatus, p.RawExtractedText, p.RiskLevel, p.Alerts, p.FailureReason, expected,
		).Scan(&p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: prescription %s no longer %s", ErrStaleStatus, p.ID, expected)
		}
		if err != nil {
			return err
		}
		if replacesMedicines(p.AnalysisStatus) {
			return r.replaceMedicines(ctx, p.ID, p.Medicines)
		}
		return nil
	})
}

func (r *prescriptionRepoPG) UpdateCorrection(ctx context.Context, p *Prescription, replaceMedicines bool) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE prescriptions SET doctor_name=$2, hospital_name=$3, prescription_date=$4,
				diagnosis=$5, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			p.ID, p.DoctorName, p.HospitalName, p.PrescriptionDate, p.Diagnosis,
		).Scan(&p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: prescription %s", apperr.ErrNotFound, p.ID)
		}
		if err != nil {
			return err
		}
		if replaceMedicines {
			return r.replaceMedicines(ctx, p.ID, p.Medicines)
		}
		return nil
	})
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	return err
}

// ---------------------------------------------------------------------------
// Medicines
// ---------------------------------------------------------------------------

func (r *prescriptionRepoPG) replaceMedicines(ctx context.Context, id uuid.UUID, meds []Medicine) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescription_medicines WHERE prescription_id = $1`, id); err != nil {
		return fmt.Errorf("clear medicines: %w", err)
	}
	for i, m := range meds {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO prescription_medicines (prescription_id, position, name, dosage, frequency, duration)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			id, i, m.Name, m.Dosage, m.Frequency, m.Duration); err != nil {
			return fmt.Errorf("insert medicine %d: %w", i, err)
		}
	}
	return nil
}

func (r *prescriptionRepoPG) loadMedicines(ctx context.Context, items []*Prescription) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Prescription, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, p := range items {
		p.Medicines = []Medicine{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT prescription_id, name, dosage, frequency, duration
		FROM prescription_medicines
		WHERE prescription_id = ANY($1)
		ORDER BY prescription_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query medicines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var m Medicine
		if err := rows.Scan(&id, &m.Name, &m.Dosage, &m.Frequency, &m.Duration); err != nil {
			return fmt.Errorf("scan medicine: %w", err)
		}
		if p, ok := byID[id]; ok {
			p.Medicines = append(p.Medicines, m)
		}
	}
	return rows.Err()
}
