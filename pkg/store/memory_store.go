package store

import (
	"context"
	"sync"

	"rollcall/pkg/domain"
)

// MemoryStore keeps all records in-process. It mirrors GormStore's contract
// and backs tests and local runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	setups      map[string]domain.TenantSetup         // tenant id -> setup
	rosters     map[string][]domain.Student           // batch label -> ordered roster
	submissions map[string]map[string]domain.Submission // batch label -> date -> record
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		setups:      make(map[string]domain.TenantSetup),
		rosters:     make(map[string][]domain.Student),
		submissions: make(map[string]map[string]domain.Submission),
	}
}

func (m *MemoryStore) SaveSetup(_ context.Context, setup domain.TenantSetup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups[setup.TenantID] = setup
	return nil
}

func (m *MemoryStore) GetSetup(_ context.Context, tenantID string) (domain.TenantSetup, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	setup, ok := m.setups[tenantID]
	return setup, ok, nil
}

func (m *MemoryStore) ListSetups(_ context.Context) ([]domain.TenantSetup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TenantSetup, 0, len(m.setups))
	for _, setup := range m.setups {
		out = append(out, setup)
	}
	return out, nil
}

func (m *MemoryStore) SetRunning(_ context.Context, tenantID string, running bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	setup, ok := m.setups[tenantID]
	if !ok {
		return nil
	}
	setup.IsRunning = running
	m.setups[tenantID] = setup
	return nil
}

func (m *MemoryStore) ReplaceRoster(_ context.Context, batchLabel string, students []domain.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	roster := make([]domain.Student, len(students))
	copy(roster, students)
	m.rosters[batchLabel] = roster
	return nil
}

func (m *MemoryStore) ListStudents(_ context.Context, batchLabel string) ([]domain.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roster := m.rosters[batchLabel]
	out := make([]domain.Student, len(roster))
	copy(out, roster)
	return out, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, memberID, batchLabel string) (domain.Student, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.rosters[batchLabel] {
		if st.MemberID == memberID {
			return st, true, nil
		}
	}
	return domain.Student{}, false, nil
}

func (m *MemoryStore) AppendSubmission(_ context.Context, date, batchLabel, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.submissions[batchLabel]
	if !ok {
		byDate = make(map[string]domain.Submission)
		m.submissions[batchLabel] = byDate
	}
	record, ok := byDate[date]
	if !ok {
		record = domain.Submission{Date: date, BatchLabel: batchLabel}
	}
	if record.Has(memberID) {
		return false, nil
	}
	record.Submitted = append(record.Submitted, memberID)
	byDate[date] = record
	return true, nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, date, batchLabel string) (domain.Submission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.submissions[batchLabel][date]
	if !ok {
		return domain.Submission{}, false, nil
	}
	out := record
	out.Submitted = make([]string, len(record.Submitted))
	copy(out.Submitted, record.Submitted)
	return out, true, nil
}

func (m *MemoryStore) ClearSubmissions(_ context.Context, date, batchLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.submissions[batchLabel], date)
	return nil
}
