package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// DefaultLockExpiry is how long a checklist process stays locked while a
// lock-requesting step hands control to an external system.
const DefaultLockExpiry = 5 * time.Minute

// EntryChangeFunc observes checklist-entry status changes as the
// dispatcher produces them, e.g. to send notifications.
type EntryChangeFunc func(applicationID uuid.UUID, entryType models.ChecklistEntryType, status models.ChecklistEntryStatus)

// ChecklistExecutor is the step executor of the application checklist
// process. It drains the automatic steps of one application in FIFO
// discovery order, interprets each step's result and emits persist/lock
// instructions to the scheduler.
type ChecklistExecutor struct {
	registry      *Registry
	store         storage.Store
	logger        Logger
	lockExpiry    time.Duration
	onEntryChange EntryChangeFunc
}

func NewChecklistExecutor(registry *Registry, store storage.Store, logger Logger) *ChecklistExecutor {
	return &ChecklistExecutor{
		registry:   registry,
		store:      store,
		logger:     logger,
		lockExpiry: DefaultLockExpiry,
	}
}

// OnEntryChange registers the observer for entry status changes. Must be
// called before the executor is handed to the scheduler.
func (e *ChecklistExecutor) OnEntryChange(fn EntryChangeFunc) {
	e.onEntryChange = fn
}

func (e *ChecklistExecutor) ProcessType() models.ProcessType {
	return models.ApplicationChecklistProcess
}

func (e *ChecklistExecutor) ExecutableStepTypes() []models.ProcessStepType {
	return e.registry.AutomaticStepTypes()
}

func (e *ChecklistExecutor) LockExpiry() time.Duration {
	return e.lockExpiry
}

func (e *ChecklistExecutor) Execute(ctx context.Context, process models.Process, pending []models.ProcessStepType) <-chan ExecutionResult {
	ch := make(chan ExecutionResult)
	go func() {
		defer close(ch)
		e.run(ctx, process, pending, ch)
	}()
	return ch
}

// checklistState is the working state of one invocation: the FIFO queue of
// automatic step types still pending, the manual step types observed, the
// checklist by entry type and all steps grouped by step type.
type checklistState struct {
	applicationID uuid.UUID
	processID     uuid.UUID
	queue         []models.ProcessStepType
	manual        []models.ProcessStepType
	entries       map[models.ChecklistEntryType]models.ChecklistEntry
	steps         map[models.ProcessStepType][]models.ProcessStep
}

func (e *ChecklistExecutor) run(ctx context.Context, process models.Process, pending []models.ProcessStepType, ch chan<- ExecutionResult) {
	data, err := e.store.GetChecklistData(process.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = NewConflict("process %s is not associated with an application checklist", process.ID)
		}
		sendResult(ctx, ch, ExecutionResult{Err: err})
		return
	}
	state := e.initialize(data, pending)

	for len(state.queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		stepType := state.queue[0]
		state.queue = state.queue[1:]

		def, err := e.registry.Lookup(stepType)
		if err != nil {
			sendResult(ctx, ch, ExecutionResult{Err: err})
			return
		}
		if _, ok := state.entries[def.EntryType]; !ok {
			sendResult(ctx, ch, ExecutionResult{Err: NewConflict("no checklist entry of type %s exists for application %s", def.EntryType, state.applicationID)})
			return
		}

		if def.Lock {
			if !sendResult(ctx, ch, ExecutionResult{Outcome: models.OutcomeLockRequested}) {
				return
			}
		}

		result, fatalErr := e.executeStep(ctx, def, state, stepType)
		if fatalErr != nil {
			sendResult(ctx, ch, ExecutionResult{Err: fatalErr})
			return
		}
		if !result.Modified {
			// the step ran but found nothing to do; it stays TODO for the
			// next poll cycle
			if !sendResult(ctx, ch, ExecutionResult{Outcome: models.OutcomeUnmodified}) {
				return
			}
			continue
		}
		cs := e.applyResult(state, stepType, result)
		if cs.empty() {
			if !sendResult(ctx, ch, ExecutionResult{Outcome: models.OutcomeUnmodified}) {
				return
			}
			continue
		}
		if !sendResult(ctx, ch, ExecutionResult{Outcome: models.OutcomeSaveRequested, Apply: cs.apply}) {
			return
		}
	}
}

// initialize builds the dispatch state. Automatic TODO steps join the FIFO
// queue in discovery order, manual TODO steps are only recorded.
func (e *ChecklistExecutor) initialize(data models.ChecklistData, pending []models.ProcessStepType) *checklistState {
	state := &checklistState{
		applicationID: data.ApplicationID,
		processID:     data.ProcessID,
		entries:       make(map[models.ChecklistEntryType]models.ChecklistEntry, len(data.Entries)),
		steps:         make(map[models.ProcessStepType][]models.ProcessStep),
	}
	for _, entry := range data.Entries {
		state.entries[entry.Type] = entry
	}
	pendingSet := make(map[models.ProcessStepType]struct{}, len(pending))
	for _, t := range pending {
		pendingSet[t] = struct{}{}
	}
	queued := make(map[models.ProcessStepType]struct{})
	for _, step := range data.Steps {
		state.steps[step.Type] = append(state.steps[step.Type], step)
		if step.Status != models.StepStatusTodo {
			continue
		}
		if _, seen := queued[step.Type]; seen {
			continue
		}
		queued[step.Type] = struct{}{}
		if e.registry.IsManual(step.Type) {
			state.manual = append(state.manual, step.Type)
			continue
		}
		if _, ok := pendingSet[step.Type]; ok || len(pending) == 0 {
			state.queue = append(state.queue, step.Type)
		}
	}
	return state
}

// executeStep invokes the registered function and classifies failures: a
// registered error handler gets the first chance; without one a
// recoverable service failure requeues the step with a comment and any
// other failure fails both step and entry. A SystemError is not absorbed
// and returns as the second value.
func (e *ChecklistExecutor) executeStep(ctx context.Context, def StepDefinition, state *checklistState, stepType models.ProcessStepType) (models.StepExecutionResult, error) {
	ec := ExecutionContext{
		ApplicationID:    state.applicationID,
		ProcessID:        state.processID,
		Checklist:        state.entries,
		PendingStepTypes: append([]models.ProcessStepType(nil), state.queue...),
	}

	var result models.StepExecutionResult
	var err error
	if def.Execute == nil {
		err = NewConflict("step type %s has no execution function and cannot be dispatched automatically", stepType)
	} else {
		result, err = def.Execute(ctx, ec)
	}
	if err != nil && def.OnError != nil {
		result, err = def.OnError(ctx, ec, err)
	}
	if err != nil && IsFatal(err) {
		return models.StepExecutionResult{}, err
	}
	if err != nil {
		comment := err.Error()
		if IsRecoverable(err) {
			e.logger.Infof("Step %s for application %s failed recoverably, requeueing: %v", stepType, state.applicationID, err)
			result = models.StepExecutionResult{
				Modified:    true,
				StepStatus:  models.StepStatusTodo,
				StepMessage: comment,
				ModifyEntry: func(entry *models.ChecklistEntry) {
					entry.Comment = comment
				},
			}
		} else {
			e.logger.Errorf("Step %s for application %s failed: %v", stepType, state.applicationID, err)
			result = models.StepExecutionResult{
				Modified:    true,
				StepStatus:  models.StepStatusFailed,
				StepMessage: comment,
				ModifyEntry: func(entry *models.ChecklistEntry) {
					entry.Status = models.EntryStatusFailed
					entry.Comment = comment
				},
			}
		}
	}
	if result.StepStatus == "" {
		result.StepStatus = models.StepStatusDone
	}
	return result, nil
}

// applyResult turns a step result into mutations: the just-run step gets
// its new status, every other TODO step of the same type becomes
// DUPLICATE, skip and schedule requests are resolved and the entry
// mutation is applied. Entry status changes are reported incrementally.
func (e *ChecklistExecutor) applyResult(state *checklistState, stepType models.ProcessStepType, result models.StepExecutionResult) *changeSet {
	cs := &changeSet{}
	now := time.Now().UTC()

	group := state.steps[stepType]
	authoritative := true
	for i := range group {
		step := &group[i]
		if step.Status != models.StepStatusTodo {
			continue
		}
		newStatus := models.StepStatusDuplicate
		newMessage := step.Message
		if authoritative {
			// the step just processed is authoritative
			newStatus = result.StepStatus
			newMessage = result.StepMessage
			authoritative = false
		}
		if newStatus == step.Status && newMessage == step.Message {
			continue
		}
		step.Status = newStatus
		step.Message = newMessage
		step.LastChanged = now
		cs.stepUpdates = append(cs.stepUpdates, *step)
	}

	for _, skipType := range result.SkipStepTypes {
		cs.stepUpdates = append(cs.stepUpdates, skipSteps(state.steps[skipType], now)...)
	}

	def, _ := e.registry.Lookup(stepType)
	entry := state.entries[def.EntryType]
	if result.ModifyEntry != nil {
		previous := entry.Status
		result.ModifyEntry(&entry)
		entry.LastChanged = now
		state.entries[def.EntryType] = entry
		cs.entryUpdates = append(cs.entryUpdates, entry)
		if entry.Status != previous && e.onEntryChange != nil {
			e.onEntryChange(state.applicationID, entry.Type, entry.Status)
		}
	}

	for _, nextType := range result.ScheduleStepTypes {
		if hasTodoStep(state.steps[nextType]) {
			continue
		}
		step := models.NewProcessStep(nextType, state.processID)
		state.steps[nextType] = append(state.steps[nextType], step)
		cs.newSteps = append(cs.newSteps, step)
		if e.registry.IsManual(nextType) {
			state.manual = append(state.manual, nextType)
			continue
		}
		state.queue = append(state.queue, nextType)
	}

	return cs
}

// skipSteps marks the first TODO step of a group SKIPPED and the rest
// DUPLICATE.
func skipSteps(group []models.ProcessStep, now time.Time) []models.ProcessStep {
	var updates []models.ProcessStep
	first := true
	for i := range group {
		step := &group[i]
		if step.Status != models.StepStatusTodo {
			continue
		}
		if first {
			step.Status = models.StepStatusSkipped
			first = false
		} else {
			step.Status = models.StepStatusDuplicate
		}
		step.LastChanged = now
		updates = append(updates, *step)
	}
	return updates
}

func hasTodoStep(group []models.ProcessStep) bool {
	for _, step := range group {
		if step.Status == models.StepStatusTodo {
			return true
		}
	}
	return false
}
