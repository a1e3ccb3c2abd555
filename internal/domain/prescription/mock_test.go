package prescription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medivault/medivault/internal/domain/patient"
	"github.com/medivault/medivault/internal/platform/apperr"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Prescription
	// history records every analysis status the repo accepted, per record.
	history map[uuid.UUID][]AnalysisStatus
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:   make(map[uuid.UUID]*Prescription),
		history: make(map[uuid.UUID][]AnalysisStatus),
	}
}

func clone(p *Prescription) *Prescription {
	cp := *p
	cp.Medicines = append([]Medicine{}, p.Medicines...)
	return &cp
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.UploadID == p.UploadID {
			return fmt.Errorf("%w: %s", ErrDuplicateUpload, p.UploadID)
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().Add(time.Duration(len(m.items)) * time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = clone(p)
	m.history[p.ID] = []AnalysisStatus{p.AnalysisStatus}
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: prescription %s", apperr.ErrNotFound, id)
	}
	return clone(p), nil
}

func (m *mockRepo) GetByUploadID(_ context.Context, uploadID string) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.UploadID == uploadID {
			return clone(p), nil
		}
	}
	return nil, fmt.Errorf("%w: prescription upload %s", apperr.ErrNotFound, uploadID)
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prescription
	for _, p := range m.items {
		if p.PatientID == patientID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) UpdateAnalysis(_ context.Context, p *Prescription, expected AnalysisStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[p.ID]
	if !ok || stored.AnalysisStatus != expected {
		return fmt.Errorf("%w: prescription %s no longer %s", ErrStaleStatus, p.ID, expected)
	}
	stored.AnalysisStatus = p.AnalysisStatus
	stored.RawExtractedText = p.RawExtractedText
	stored.RiskLevel = p.RiskLevel
	stored.Alerts = p.Alerts
	stored.FailureReason = p.FailureReason
	if replacesMedicines(p.AnalysisStatus) {
		stored.Medicines = append([]Medicine{}, p.Medicines...)
	}
	m.history[p.ID] = append(m.history[p.ID], p.AnalysisStatus)
	return nil
}

func (m *mockRepo) UpdateCorrection(_ context.Context, p *Prescription, replaceMedicines bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[p.ID]
	if !ok {
		return fmt.Errorf("%w: prescription %s", apperr.ErrNotFound, p.ID)
	}
	stored.DoctorName = p.DoctorName
	stored.HospitalName = p.HospitalName
	stored.PrescriptionDate = p.PrescriptionDate
	stored.Diagnosis = p.Diagnosis
	if replaceMedicines {
		stored.Medicines = append([]Medicine{}, p.Medicines...)
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockRepo) statusHistory(id uuid.UUID) []AnalysisStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AnalysisStatus{}, m.history[id]...)
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// setStatus forces a stored status, as a crash or an operator would leave it.
func (m *mockRepo) setStatus(id uuid.UUID, s AnalysisStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].AnalysisStatus = s
}

type mockPatientRepo struct {
	items map[uuid.UUID]*patient.Patient
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", apperr.ErrNotFound, id)
	}
	return p, nil
}

// recordingDispatcher remembers dispatched ids instead of running them.
type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID{}, d.ids...)
}
