package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// ChecklistService seeds the onboarding checklist for a submitted
// application: one entry per entry type, the checklist process and the
// first wave of process steps.
type ChecklistService struct {
	store  storage.Store
	logger Logger
}

func NewChecklistService(store storage.Store, logger Logger) *ChecklistService {
	return &ChecklistService{store: store, logger: logger}
}

// InitialEntryStatus computes the seeded status for an entry type. The BPN
// entry is DONE when a business partner number is already known from
// external data; everything else starts TO_DO.
func InitialEntryStatus(t models.ChecklistEntryType, bpn string) models.ChecklistEntryStatus {
	if t == models.EntryBusinessPartnerNumber && bpn != "" {
		return models.EntryStatusDone
	}
	return models.EntryStatusTodo
}

// InitialProcessStepTypes derives the first wave of steps from the seeded
// entries. A TO_DO BPN entry yields the automatic push step and its manual
// trigger in parallel; the registration entry yields the operator's
// verify and decline triggers. The remaining stages start with no step
// and are scheduled once an earlier stage completes.
func InitialProcessStepTypes(entries []models.ChecklistEntry) []models.ProcessStepType {
	var out []models.ProcessStepType
	for _, e := range entries {
		if e.Status != models.EntryStatusTodo {
			continue
		}
		switch e.Type {
		case models.EntryBusinessPartnerNumber:
			out = append(out,
				models.StepCreateBusinessPartnerPush,
				models.StepManualTriggerBusinessPartnerPush,
			)
		case models.EntryRegistrationVerification:
			out = append(out,
				models.StepVerifyRegistration,
				models.StepDeclineApplication,
			)
		}
	}
	return out
}

// CreateInitialChecklist seeds the checklist for the given application. It
// is idempotent: a second call only adds entries and steps absent from the
// first, so re-seeding after a partial failure is safe.
func (s *ChecklistService) CreateInitialChecklist(applicationID uuid.UUID) (result []models.ChecklistEntry, err error) {
	app, err := s.store.GetApplication(applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFound("application %s does not exist", applicationID)
		}
		return nil, err
	}
	if app.Status != models.ApplicationSubmitted {
		return nil, NewConflict("application %s is in status %s, expected %s", applicationID, app.Status, models.ApplicationSubmitted)
	}
	company, err := s.store.GetCompany(app.CompanyID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load company %s", app.CompanyID)
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	existing, err := txStore.GetChecklist(applicationID)
	if err != nil {
		return nil, err
	}
	present := make(map[models.ChecklistEntryType]struct{}, len(existing))
	for _, e := range existing {
		present[e.Type] = struct{}{}
	}
	now := time.Now().UTC()
	var created []models.ChecklistEntry
	for _, t := range models.ChecklistEntryTypes() {
		if _, ok := present[t]; ok {
			continue
		}
		created = append(created, models.ChecklistEntry{
			ApplicationID: applicationID,
			Type:          t,
			Status:        InitialEntryStatus(t, company.BusinessPartnerNumber),
			LastChanged:   now,
		})
	}
	if len(created) > 0 {
		if err = txStore.CreateChecklistEntries(created); err != nil {
			return nil, err
		}
	}
	checklist := append(existing, created...)

	processID, err := s.ensureProcess(txStore, app)
	if err != nil {
		return nil, err
	}

	steps, err := txStore.GetProcessSteps(processID)
	if err != nil {
		return nil, err
	}
	stepPresent := make(map[models.ProcessStepType]struct{}, len(steps))
	for _, step := range steps {
		stepPresent[step.Type] = struct{}{}
	}
	var newSteps []models.ProcessStep
	for _, t := range InitialProcessStepTypes(checklist) {
		if _, ok := stepPresent[t]; ok {
			continue
		}
		stepPresent[t] = struct{}{}
		newSteps = append(newSteps, models.NewProcessStep(t, processID))
	}
	if len(newSteps) > 0 {
		if err = txStore.CreateProcessSteps(newSteps); err != nil {
			return nil, err
		}
	}

	s.logger.Infof("Seeded checklist for application %s: %d entries created, %d steps scheduled", applicationID, len(created), len(newSteps))
	return checklist, nil
}

// ensureProcess returns the application's checklist process, creating and
// assigning one when missing.
func (s *ChecklistService) ensureProcess(txStore storage.Store, app models.CompanyApplication) (uuid.UUID, error) {
	if app.ChecklistProcessID != nil {
		return *app.ChecklistProcessID, nil
	}
	process := models.NewProcess(models.ApplicationChecklistProcess)
	if err := txStore.CreateProcess(process); err != nil {
		return uuid.Nil, err
	}
	if err := txStore.AssignChecklistProcess(app.ID, process.ID); err != nil {
		return uuid.Nil, err
	}
	return process.ID, nil
}
