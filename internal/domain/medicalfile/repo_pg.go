package medicalfile

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

type medicalFileRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &medicalFileRepoPG{pool: pool}
}

func (r *medicalFileRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const medicalFileCols = `id, upload_id, patient_id, original_filename, original_filetype,
	artifact_ref, page_count, size_bytes, category, description,
	status, error_message, created_at, updated_at`

func (r *medicalFileRepoPG) scanRow(row pgx.Row) (*MedicalFile, error) {
	var f MedicalFile
	err := row.Scan(&f.ID, &f.UploadID, &f.PatientID, &f.OriginalFilename, &f.OriginalFiletype,
		&f.ArtifactRef, &f.PageCount, &f.SizeBytes, &f.Category, &f.Description,
		&f.Status, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt)
	return &f, err
}

func (r *medicalFileRepoPG) getOne(ctx context.Context, what string, sql string, arg interface{}) (*MedicalFile, error) {
	f, err := r.scanRow(r.conn(ctx).QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: medical file %s %v", apperr.ErrNotFound, what, arg)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *medicalFileRepoPG) Create(ctx context.Context, f *MedicalFile) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_files (id, upload_id, patient_id, original_filename, original_filetype,
			artifact_ref, page_count, size_bytes, category, description, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (upload_id) DO NOTHING
		RETURNING created_at, updated_at`,
		f.ID, f.UploadID, f.PatientID, f.OriginalFilename, f.OriginalFiletype,
		f.ArtifactRef, f.PageCount, f.SizeBytes, f.Category, f.Description, f.Status, f.ErrorMessage,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrDuplicateUpload, f.UploadID)
	}
	return err
}

func (r *medicalFileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalFile, error) {
	return r.getOne(ctx, "id", `SELECT `+medicalFileCols+` FROM medical_files WHERE id = $1`, id)
}

func (r *medicalFileRepoPG) GetByUploadID(ctx context.Context, uploadID string) (*MedicalFile, error) {
	return r.getOne(ctx, "upload", `SELECT `+medicalFileCols+` FROM medical_files WHERE upload_id = $1`, uploadID)
}

func (r *medicalFileRepoPG) Update(ctx context.Context, f *MedicalFile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_files SET artifact_ref=$2, page_count=$3, size_bytes=$4,
			category=$5, description=$6, status=$7, error_message=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.ArtifactRef, f.PageCount, f.SizeBytes,
		f.Category, f.Description, f.Status, f.ErrorMessage,
	).Scan(&f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: medical file %s", apperr.ErrNotFound, f.ID)
	}
	return err
}

func (r *medicalFileRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_files WHERE id = $1`, id)
	return err
}

func (r *medicalFileRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalFile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_files WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medicalFileCols+` FROM medical_files
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalFile
	for rows.Next() {
		f, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}
