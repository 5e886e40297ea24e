package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by SaveProcess when the presented version
// no longer matches the stored one. The race is expected and recoverable.
var ErrVersionConflict = errors.New("process version conflict")

// Store defines the storage operations of the onboarding worker. Begin
// returns a transactional view; every mutation between Begin and Commit is
// one unit of work and is discarded by Rollback.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Process operations
	CreateProcess(p models.Process) error
	GetProcess(id uuid.UUID) (models.Process, error)
	// GetActiveProcesses returns processes of the given types that have at
	// least one TODO step of one of the given step types and no lock still
	// in force at now.
	GetActiveProcesses(types []models.ProcessType, stepTypes []models.ProcessStepType, now time.Time) ([]models.Process, error)
	// SaveProcess persists p if expectedVersion still matches the stored
	// version, otherwise ErrVersionConflict.
	SaveProcess(p models.Process, expectedVersion uuid.UUID) error

	// Process step operations
	CreateProcessSteps(steps []models.ProcessStep) error
	GetProcessSteps(processID uuid.UUID) ([]models.ProcessStep, error)
	UpdateProcessStep(step models.ProcessStep) error

	// Application operations
	CreateCompany(c models.Company) error
	GetCompany(id uuid.UUID) (models.Company, error)
	CreateApplication(a models.CompanyApplication) error
	GetApplication(id uuid.UUID) (models.CompanyApplication, error)
	ListApplications() ([]models.CompanyApplication, error)
	AssignChecklistProcess(applicationID, processID uuid.UUID) error
	UpdateApplicationStatus(applicationID uuid.UUID, status models.ApplicationStatus) error

	// Checklist operations
	CreateChecklistEntries(entries []models.ChecklistEntry) error
	GetChecklist(applicationID uuid.UUID) ([]models.ChecklistEntry, error)
	UpdateChecklistEntry(e models.ChecklistEntry) error
	// GetChecklistData resolves the full checklist snapshot for the
	// application owning the given process.
	GetChecklistData(processID uuid.UUID) (models.ChecklistData, error)
}
