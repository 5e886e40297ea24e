package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// ManualProcessService validates and applies externally triggered steps:
// operator retriggers and third-party callbacks. It shares the process and
// step data with the poll loop and uses the same soft lock, so a callback
// and a worker instance never mutate one process concurrently.
type ManualProcessService struct {
	store  storage.Store
	logger Logger
}

func NewManualProcessService(store storage.Store, logger Logger) *ManualProcessService {
	return &ManualProcessService{store: store, logger: logger}
}

// ManualContext captures the verified state between Verify and Finalize:
// the process, the triggering step and the checklist snapshot.
type ManualContext struct {
	process models.Process
	step    models.ProcessStep
	entry   models.ChecklistEntry
	steps   map[models.ProcessStepType][]models.ProcessStep
	pending changeSet
	locked  bool
}

// Process returns the verified process.
func (mc *ManualContext) Process() models.Process { return mc.process }

// Entry returns the checklist entry the triggering step targets.
func (mc *ManualContext) Entry() models.ChecklistEntry { return mc.entry }

// Verify checks that triggering stepType for the given application and
// checklist entry is legal in the current process state. It fails with
// NotFoundError when the application does not exist and with ConflictError
// when the application is not submitted, has no checklist process, the
// process is locked, no TODO step of stepType exists or the entry status
// is not acceptable.
func (s *ManualProcessService) Verify(applicationID uuid.UUID, entryType models.ChecklistEntryType, acceptableStatuses []models.ChecklistEntryStatus, stepType models.ProcessStepType) (*ManualContext, error) {
	app, err := s.store.GetApplication(applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFound("application %s does not exist", applicationID)
		}
		return nil, err
	}
	if app.Status != models.ApplicationSubmitted {
		return nil, NewConflict("application %s is in status %s and cannot be processed", applicationID, app.Status)
	}
	if app.ChecklistProcessID == nil {
		return nil, NewConflict("application %s is not associated with a checklist process", applicationID)
	}

	process, err := s.store.GetProcess(*app.ChecklistProcessID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load process %s", *app.ChecklistProcessID)
	}
	if process.Locked(time.Now()) {
		return nil, NewConflict("process %s is locked until %s", process.ID, process.LockExpiry)
	}

	steps, err := s.store.GetProcessSteps(process.ID)
	if err != nil {
		return nil, err
	}
	grouped := make(map[models.ProcessStepType][]models.ProcessStep)
	for _, step := range steps {
		grouped[step.Type] = append(grouped[step.Type], step)
	}
	var trigger *models.ProcessStep
	for i, step := range grouped[stepType] {
		if step.Status == models.StepStatusTodo {
			trigger = &grouped[stepType][i]
			break
		}
	}
	if trigger == nil {
		return nil, NewConflict("no pending step of type %s exists on process %s", stepType, process.ID)
	}

	entries, err := s.store.GetChecklist(applicationID)
	if err != nil {
		return nil, err
	}
	var entry *models.ChecklistEntry
	for i, e := range entries {
		if e.Type == entryType {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil, NewConflict("no checklist entry of type %s exists for application %s", entryType, applicationID)
	}
	acceptable := false
	for _, status := range acceptableStatuses {
		if entry.Status == status {
			acceptable = true
			break
		}
	}
	if !acceptable {
		return nil, NewConflict("checklist entry %s of application %s is in status %s, expected one of %v", entryType, applicationID, entry.Status, acceptableStatuses)
	}

	return &ManualContext{
		process: process,
		step:    *trigger,
		entry:   *entry,
		steps:   grouped,
	}, nil
}

// RequestLock acquires the soft lock for the verified process. It is
// expected to succeed immediately after Verify since no other claimant can
// have intervened within the same request; a conflict here indicates a
// design bug and surfaces as UnexpectedConditionError.
func (s *ManualProcessService) RequestLock(mc *ManualContext, expiry time.Time) error {
	expected := mc.process.Version
	mc.process.Version = uuid.New()
	mc.process.LockExpiry = &expiry
	if err := s.store.SaveProcess(mc.process, expected); err != nil {
		mc.process.Version = expected
		mc.process.LockExpiry = nil
		return NewUnexpectedCondition("failed to lock process %s: %v", mc.process.ID, err)
	}
	mc.locked = true
	return nil
}

// SkipProcessSteps resolves sibling step-type groups: the first TODO step
// of each group becomes SKIPPED, the rest DUPLICATE. The mutations are
// queued and persisted by Finalize.
func (s *ManualProcessService) SkipProcessSteps(mc *ManualContext, types ...models.ProcessStepType) {
	now := time.Now().UTC()
	for _, t := range types {
		if t == mc.step.Type {
			continue
		}
		mc.pending.stepUpdates = append(mc.pending.stepUpdates, skipSteps(mc.steps[t], now)...)
	}
}

// FinalizeRequest carries the optional outcome of a manual trigger.
type FinalizeRequest struct {
	ModifyEntry       func(*models.ChecklistEntry)
	ScheduleStepTypes []models.ProcessStepType
}

// Finalize applies the entry mutation, marks the triggering step DONE
// (extra TODO steps of its type become DUPLICATE), creates TODO steps for
// the requested follow-on types and releases the lock. When the optimistic
// release conflicts, the process is re-read and the version bumped
// explicitly so the change is still persisted.
func (s *ManualProcessService) Finalize(mc *ManualContext, req FinalizeRequest) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
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

	now := time.Now().UTC()

	// resolve the triggering step and its duplicates
	for _, step := range mc.steps[mc.step.Type] {
		if step.Status != models.StepStatusTodo {
			continue
		}
		if step.ID == mc.step.ID {
			step.Status = models.StepStatusDone
		} else {
			step.Status = models.StepStatusDuplicate
		}
		step.LastChanged = now
		mc.pending.stepUpdates = append(mc.pending.stepUpdates, step)
	}

	if req.ModifyEntry != nil {
		entry := mc.entry
		req.ModifyEntry(&entry)
		entry.LastChanged = now
		mc.entry = entry
		mc.pending.entryUpdates = append(mc.pending.entryUpdates, entry)
	}

	for _, t := range req.ScheduleStepTypes {
		if hasTodoStep(mc.steps[t]) {
			continue
		}
		step := models.NewProcessStep(t, mc.process.ID)
		mc.steps[t] = append(mc.steps[t], step)
		mc.pending.newSteps = append(mc.pending.newSteps, step)
	}

	if err = mc.pending.apply(txStore); err != nil {
		return err
	}
	mc.pending = changeSet{}

	expected := mc.process.Version
	mc.process.Version = uuid.New()
	mc.process.LockExpiry = nil
	err = txStore.SaveProcess(mc.process, expected)
	if errors.Is(err, storage.ErrVersionConflict) {
		// the version changed underneath; re-attach and bump explicitly
		s.logger.Infof("Version of process %s changed while releasing the lock, re-attaching", mc.process.ID)
		var current models.Process
		if current, err = txStore.GetProcess(mc.process.ID); err != nil {
			return err
		}
		mc.process.Version = uuid.New()
		err = txStore.SaveProcess(mc.process, current.Version)
	}
	if err != nil {
		return err
	}
	mc.locked = false
	s.logger.Infof("Finalized manual step %s for process %s", mc.step.Type, mc.process.ID)
	return nil
}
