package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
)

// mockData holds the in-memory tables. Slices keep insertion order so the
// dispatcher sees steps in discovery order.
type mockData struct {
	processes    []models.Process
	steps        []models.ProcessStep
	companies    []models.Company
	applications []models.CompanyApplication
	entries      []models.ChecklistEntry
}

func (d *mockData) clone() mockData {
	c := mockData{
		processes:    make([]models.Process, len(d.processes)),
		steps:        make([]models.ProcessStep, len(d.steps)),
		companies:    make([]models.Company, len(d.companies)),
		applications: make([]models.CompanyApplication, len(d.applications)),
		entries:      make([]models.ChecklistEntry, len(d.entries)),
	}
	copy(c.processes, d.processes)
	copy(c.steps, d.steps)
	copy(c.companies, d.companies)
	copy(c.applications, d.applications)
	copy(c.entries, d.entries)
	return c
}

// MockStore implements Store with in-memory storage. Begin returns a
// transactional view working on a copy; Commit swaps the copy in, Rollback
// discards it, so an aborted unit of work leaves no partial mutation.
type MockStore struct {
	mu           sync.Mutex
	data         mockData
	failNextSave int
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailNextProcessSaves makes the next n SaveProcess calls fail with
// ErrVersionConflict, simulating a concurrent writer.
func (m *MockStore) FailNextProcessSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSave = n
}

func (m *MockStore) consumeFailSave() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextSave > 0 {
		m.failNextSave--
		return true
	}
	return false
}

func (m *MockStore) Begin() (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &mockTx{parent: m, data: m.data.clone()}, nil
}

func (m *MockStore) Commit() error   { return errors.New("not a transaction") }
func (m *MockStore) Rollback() error { return errors.New("not a transaction") }
func (m *MockStore) Close() error    { return nil }

// Non-transactional operations work directly on the shared data.

func (m *MockStore) CreateProcess(p models.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createProcess(p)
}

func (m *MockStore) GetProcess(id uuid.UUID) (models.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getProcess(id)
}

func (m *MockStore) GetActiveProcesses(types []models.ProcessType, stepTypes []models.ProcessStepType, now time.Time) ([]models.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getActiveProcesses(types, stepTypes, now)
}

func (m *MockStore) SaveProcess(p models.Process, expectedVersion uuid.UUID) error {
	if m.consumeFailSave() {
		return ErrVersionConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveProcess(p, expectedVersion)
}

func (m *MockStore) CreateProcessSteps(steps []models.ProcessStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createProcessSteps(steps)
}

func (m *MockStore) GetProcessSteps(processID uuid.UUID) ([]models.ProcessStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getProcessSteps(processID)
}

func (m *MockStore) UpdateProcessStep(step models.ProcessStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.updateProcessStep(step)
}

func (m *MockStore) CreateCompany(c models.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.companies = append(m.data.companies, c)
	return nil
}

func (m *MockStore) GetCompany(id uuid.UUID) (models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getCompany(id)
}

func (m *MockStore) CreateApplication(a models.CompanyApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.applications = append(m.data.applications, a)
	return nil
}

func (m *MockStore) GetApplication(id uuid.UUID) (models.CompanyApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getApplication(id)
}

func (m *MockStore) ListApplications() ([]models.CompanyApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CompanyApplication, len(m.data.applications))
	copy(out, m.data.applications)
	return out, nil
}

func (m *MockStore) AssignChecklistProcess(applicationID, processID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.assignChecklistProcess(applicationID, processID)
}

func (m *MockStore) UpdateApplicationStatus(applicationID uuid.UUID, status models.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.updateApplicationStatus(applicationID, status)
}

func (m *MockStore) CreateChecklistEntries(entries []models.ChecklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createChecklistEntries(entries)
}

func (m *MockStore) GetChecklist(applicationID uuid.UUID) ([]models.ChecklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getChecklist(applicationID)
}

func (m *MockStore) UpdateChecklistEntry(e models.ChecklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.updateChecklistEntry(e)
}

func (m *MockStore) GetChecklistData(processID uuid.UUID) (models.ChecklistData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getChecklistData(processID)
}

// mockTx is the transactional view returned by Begin.
type mockTx struct {
	parent    *MockStore
	data      mockData
	committed bool
}

func (t *mockTx) Begin() (Store, error) {
	return nil, errors.New("already in a transaction")
}

func (t *mockTx) Commit() error {
	if t.committed {
		return errors.New("already committed")
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.data = t.data
	t.committed = true
	return nil
}

func (t *mockTx) Rollback() error {
	if t.committed {
		return errors.New("cannot rollback committed transaction")
	}
	// changes are discarded with the copy
	return nil
}

func (t *mockTx) Close() error { return nil }

func (t *mockTx) CreateProcess(p models.Process) error { return t.data.createProcess(p) }
func (t *mockTx) GetProcess(id uuid.UUID) (models.Process, error) {
	return t.data.getProcess(id)
}

func (t *mockTx) GetActiveProcesses(types []models.ProcessType, stepTypes []models.ProcessStepType, now time.Time) ([]models.Process, error) {
	return t.data.getActiveProcesses(types, stepTypes, now)
}

func (t *mockTx) SaveProcess(p models.Process, expectedVersion uuid.UUID) error {
	if t.parent.consumeFailSave() {
		return ErrVersionConflict
	}
	return t.data.saveProcess(p, expectedVersion)
}

func (t *mockTx) CreateProcessSteps(steps []models.ProcessStep) error {
	return t.data.createProcessSteps(steps)
}

func (t *mockTx) GetProcessSteps(processID uuid.UUID) ([]models.ProcessStep, error) {
	return t.data.getProcessSteps(processID)
}

func (t *mockTx) UpdateProcessStep(step models.ProcessStep) error {
	return t.data.updateProcessStep(step)
}

func (t *mockTx) CreateCompany(c models.Company) error {
	t.data.companies = append(t.data.companies, c)
	return nil
}

func (t *mockTx) GetCompany(id uuid.UUID) (models.Company, error) {
	return t.data.getCompany(id)
}

func (t *mockTx) CreateApplication(a models.CompanyApplication) error {
	t.data.applications = append(t.data.applications, a)
	return nil
}

func (t *mockTx) GetApplication(id uuid.UUID) (models.CompanyApplication, error) {
	return t.data.getApplication(id)
}

func (t *mockTx) ListApplications() ([]models.CompanyApplication, error) {
	out := make([]models.CompanyApplication, len(t.data.applications))
	copy(out, t.data.applications)
	return out, nil
}

func (t *mockTx) AssignChecklistProcess(applicationID, processID uuid.UUID) error {
	return t.data.assignChecklistProcess(applicationID, processID)
}

func (t *mockTx) UpdateApplicationStatus(applicationID uuid.UUID, status models.ApplicationStatus) error {
	return t.data.updateApplicationStatus(applicationID, status)
}

func (t *mockTx) CreateChecklistEntries(entries []models.ChecklistEntry) error {
	return t.data.createChecklistEntries(entries)
}

func (t *mockTx) GetChecklist(applicationID uuid.UUID) ([]models.ChecklistEntry, error) {
	return t.data.getChecklist(applicationID)
}

func (t *mockTx) UpdateChecklistEntry(e models.ChecklistEntry) error {
	return t.data.updateChecklistEntry(e)
}

func (t *mockTx) GetChecklistData(processID uuid.UUID) (models.ChecklistData, error) {
	return t.data.getChecklistData(processID)
}

// data operations shared by store and transaction

func (d *mockData) createProcess(p models.Process) error {
	for _, existing := range d.processes {
		if existing.ID == p.ID {
			return errors.New("process already exists")
		}
	}
	d.processes = append(d.processes, p)
	return nil
}

func (d *mockData) getProcess(id uuid.UUID) (models.Process, error) {
	for _, p := range d.processes {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Process{}, ErrNotFound
}

func (d *mockData) getActiveProcesses(types []models.ProcessType, stepTypes []models.ProcessStepType, now time.Time) ([]models.Process, error) {
	typeSet := make(map[models.ProcessType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	stepSet := make(map[models.ProcessStepType]struct{}, len(stepTypes))
	for _, t := range stepTypes {
		stepSet[t] = struct{}{}
	}
	var out []models.Process
	for _, p := range d.processes {
		if _, ok := typeSet[p.Type]; !ok {
			continue
		}
		if p.Locked(now) {
			continue
		}
		for _, s := range d.steps {
			if s.ProcessID != p.ID || s.Status != models.StepStatusTodo {
				continue
			}
			if _, ok := stepSet[s.Type]; ok {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (d *mockData) saveProcess(p models.Process, expectedVersion uuid.UUID) error {
	for i, existing := range d.processes {
		if existing.ID != p.ID {
			continue
		}
		if existing.Version != expectedVersion {
			return ErrVersionConflict
		}
		d.processes[i] = p
		return nil
	}
	return ErrNotFound
}

func (d *mockData) createProcessSteps(steps []models.ProcessStep) error {
	d.steps = append(d.steps, steps...)
	return nil
}

func (d *mockData) getProcessSteps(processID uuid.UUID) ([]models.ProcessStep, error) {
	var out []models.ProcessStep
	for _, s := range d.steps {
		if s.ProcessID == processID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *mockData) updateProcessStep(step models.ProcessStep) error {
	for i, s := range d.steps {
		if s.ID == step.ID {
			d.steps[i] = step
			return nil
		}
	}
	return ErrNotFound
}

func (d *mockData) getCompany(id uuid.UUID) (models.Company, error) {
	for _, c := range d.companies {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Company{}, ErrNotFound
}

func (d *mockData) getApplication(id uuid.UUID) (models.CompanyApplication, error) {
	for _, a := range d.applications {
		if a.ID == id {
			return a, nil
		}
	}
	return models.CompanyApplication{}, ErrNotFound
}

func (d *mockData) updateApplicationStatus(applicationID uuid.UUID, status models.ApplicationStatus) error {
	for i, a := range d.applications {
		if a.ID == applicationID {
			d.applications[i].Status = status
			d.applications[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (d *mockData) assignChecklistProcess(applicationID, processID uuid.UUID) error {
	for i, a := range d.applications {
		if a.ID == applicationID {
			pid := processID
			d.applications[i].ChecklistProcessID = &pid
			d.applications[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (d *mockData) createChecklistEntries(entries []models.ChecklistEntry) error {
	for _, e := range entries {
		for _, existing := range d.entries {
			if existing.ApplicationID == e.ApplicationID && existing.Type == e.Type {
				return errors.Errorf("checklist entry %s already exists for application %s", e.Type, e.ApplicationID)
			}
		}
		d.entries = append(d.entries, e)
	}
	return nil
}

func (d *mockData) getChecklist(applicationID uuid.UUID) ([]models.ChecklistEntry, error) {
	var out []models.ChecklistEntry
	for _, e := range d.entries {
		if e.ApplicationID == applicationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *mockData) updateChecklistEntry(e models.ChecklistEntry) error {
	for i, existing := range d.entries {
		if existing.ApplicationID == e.ApplicationID && existing.Type == e.Type {
			d.entries[i] = e
			return nil
		}
	}
	return ErrNotFound
}

func (d *mockData) getChecklistData(processID uuid.UUID) (models.ChecklistData, error) {
	for _, a := range d.applications {
		if a.ChecklistProcessID == nil || *a.ChecklistProcessID != processID {
			continue
		}
		entries, _ := d.getChecklist(a.ID)
		steps, _ := d.getProcessSteps(processID)
		return models.ChecklistData{
			ApplicationID: a.ID,
			ProcessID:     processID,
			Entries:       entries,
			Steps:         steps,
		}, nil
	}
	return models.ChecklistData{}, ErrNotFound
}
