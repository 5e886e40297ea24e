package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/service"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// stubHandlers records every invocation and delegates to the configured
// func per step, defaulting to a plain modified result.
type stubHandlers struct {
	push            service.StepFunc
	pull            service.StepFunc
	wallet          service.StepFunc
	clearingHouse   service.StepFunc
	selfDescription service.StepFunc
	activate        service.StepFunc
	calls           []models.ProcessStepType
}

func (h *stubHandlers) invoke(ctx context.Context, ec service.ExecutionContext, st models.ProcessStepType, fn service.StepFunc) (models.StepExecutionResult, error) {
	h.calls = append(h.calls, st)
	if fn == nil {
		return models.StepExecutionResult{Modified: true}, nil
	}
	return fn(ctx, ec)
}

func (h *stubHandlers) PushBusinessPartnerNumber(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepCreateBusinessPartnerPush, h.push)
}

func (h *stubHandlers) PullBusinessPartnerNumber(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepCreateBusinessPartnerPull, h.pull)
}

func (h *stubHandlers) CreateIdentityWallet(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepCreateIdentityWallet, h.wallet)
}

func (h *stubHandlers) StartClearingHouse(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepStartClearingHouse, h.clearingHouse)
}

func (h *stubHandlers) StartSelfDescription(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepStartSelfDescription, h.selfDescription)
}

func (h *stubHandlers) ActivateApplication(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	return h.invoke(ctx, ec, models.StepActivateApplication, h.activate)
}

func newChecklistExecutor(store storage.Store, h service.ChecklistHandlers) *service.ChecklistExecutor {
	registry := service.NewRegistry(service.DefaultChecklistDefinitions(h))
	return service.NewChecklistExecutor(registry, store, logger{})
}

// collectOutcomes consumes the whole result stream, committing every Apply
// the way the scheduler would.
func collectOutcomes(t *testing.T, store storage.Store, results <-chan service.ExecutionResult) []models.ExecutionOutcome {
	t.Helper()
	var outcomes []models.ExecutionOutcome
	for r := range results {
		require.NoError(t, r.Err)
		outcomes = append(outcomes, r.Outcome)
		if r.Apply != nil {
			tx, err := store.Begin()
			require.NoError(t, err)
			require.NoError(t, r.Apply(tx))
			require.NoError(t, tx.Commit())
		}
	}
	return outcomes
}

func TestChecklistExecutor(t *testing.T) {

	t.Run("ProgressionChain", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)

		h := &stubHandlers{
			push: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{
					Modified:          true,
					ModifyEntry:       func(e *models.ChecklistEntry) { e.Status = models.EntryStatusDone },
					SkipStepTypes:     []models.ProcessStepType{models.StepManualTriggerBusinessPartnerPush},
					ScheduleStepTypes: []models.ProcessStepType{models.StepCreateIdentityWallet},
				}, nil
			},
			wallet: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{
					Modified:          true,
					ModifyEntry:       func(e *models.ChecklistEntry) { e.Status = models.EntryStatusDone },
					ScheduleStepTypes: []models.ProcessStepType{models.StepStartClearingHouse},
				}, nil
			},
			clearingHouse: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{
					Modified:          true,
					ModifyEntry:       func(e *models.ChecklistEntry) { e.Status = models.EntryStatusInProgress },
					ScheduleStepTypes: []models.ProcessStepType{models.StepAwaitClearingHouseResponse},
				}, nil
			},
		}
		executor := newChecklistExecutor(f.store, h)

		var observed []models.ChecklistEntryType
		executor.OnEntryChange(func(appID uuid.UUID, et models.ChecklistEntryType, status models.ChecklistEntryStatus) {
			assert.Equal(t, f.applicationID, appID)
			observed = append(observed, et)
		})

		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		outcomes := collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		assert.Equal(t, []models.ProcessStepType{
			models.StepCreateBusinessPartnerPush,
			models.StepCreateIdentityWallet,
			models.StepStartClearingHouse,
		}, h.calls, "queued follow-on steps run in FIFO order")
		assert.Equal(t, []models.ExecutionOutcome{
			models.OutcomeSaveRequested,
			models.OutcomeSaveRequested,
			models.OutcomeLockRequested,
			models.OutcomeSaveRequested,
		}, outcomes, "a lock-marked step announces the lock before executing")
		assert.Equal(t, []models.ChecklistEntryType{
			models.EntryBusinessPartnerNumber,
			models.EntryIdentityWallet,
			models.EntryClearingHouse,
		}, observed)

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusDone, stepsByType(steps, models.StepCreateBusinessPartnerPush)[0].Status)
		assert.Equal(t, models.StepStatusSkipped, stepsByType(steps, models.StepManualTriggerBusinessPartnerPush)[0].Status)
		assert.Equal(t, models.StepStatusDone, stepsByType(steps, models.StepCreateIdentityWallet)[0].Status)
		assert.Equal(t, models.StepStatusDone, stepsByType(steps, models.StepStartClearingHouse)[0].Status)
		assert.Equal(t, models.StepStatusTodo, stepsByType(steps, models.StepAwaitClearingHouseResponse)[0].Status)

		entries, err := f.store.GetChecklist(f.applicationID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryStatusDone, entryByType(t, entries, models.EntryBusinessPartnerNumber).Status)
		assert.Equal(t, models.EntryStatusDone, entryByType(t, entries, models.EntryIdentityWallet).Status)
		assert.Equal(t, models.EntryStatusInProgress, entryByType(t, entries, models.EntryClearingHouse).Status)
	})

	t.Run("DuplicateStepsResolvedOnce", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)
		// extra TODO push steps, e.g. left behind by earlier retriggers
		require.NoError(t, f.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepCreateBusinessPartnerPush, processID),
			models.NewProcessStep(models.StepCreateBusinessPartnerPush, processID),
		}))

		h := &stubHandlers{}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		assert.Equal(t, []models.ProcessStepType{models.StepCreateBusinessPartnerPush}, h.calls, "one execution per step type")

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		group := stepsByType(steps, models.StepCreateBusinessPartnerPush)
		require.Len(t, group, 3)
		assert.Equal(t, models.StepStatusDone, group[0].Status)
		assert.Equal(t, models.StepStatusDuplicate, group[1].Status)
		assert.Equal(t, models.StepStatusDuplicate, group[2].Status)
	})

	t.Run("SkipResolvesWholeGroup", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)
		// a second TODO manual trigger next to the seeded one
		require.NoError(t, f.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepManualTriggerBusinessPartnerPush, processID),
		}))

		h := &stubHandlers{
			push: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{
					Modified:      true,
					SkipStepTypes: []models.ProcessStepType{models.StepManualTriggerBusinessPartnerPush},
				}, nil
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		group := stepsByType(steps, models.StepManualTriggerBusinessPartnerPush)
		require.Len(t, group, 2)
		statuses := map[models.ProcessStepStatus]int{}
		for _, s := range group {
			statuses[s.Status]++
		}
		assert.Equal(t, map[models.ProcessStepStatus]int{
			models.StepStatusSkipped:   1,
			models.StepStatusDuplicate: 1,
		}, statuses, "only the first pending step of a skipped group becomes SKIPPED")
	})

	t.Run("RecoverableFailureRequeues", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)

		h := &stubHandlers{
			push: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{}, service.Recoverable(errors.New("503"), "BPDM pool unavailable")
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		step := stepsByType(steps, models.StepCreateBusinessPartnerPush)[0]
		assert.Equal(t, models.StepStatusTodo, step.Status, "the step stays claimable")
		assert.Equal(t, "BPDM pool unavailable", step.Message)

		entries, err := f.store.GetChecklist(f.applicationID)
		require.NoError(t, err)
		entry := entryByType(t, entries, models.EntryBusinessPartnerNumber)
		assert.Equal(t, models.EntryStatusTodo, entry.Status)
		assert.Equal(t, "BPDM pool unavailable", entry.Comment)
	})

	t.Run("NonRecoverableFailureFailsStepAndEntry", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)

		h := &stubHandlers{
			push: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{}, errors.New("rejected by pool")
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		step := stepsByType(steps, models.StepCreateBusinessPartnerPush)[0]
		assert.Equal(t, models.StepStatusFailed, step.Status)
		assert.Equal(t, "rejected by pool", step.Message)

		entries, err := f.store.GetChecklist(f.applicationID)
		require.NoError(t, err)
		entry := entryByType(t, entries, models.EntryBusinessPartnerNumber)
		assert.Equal(t, models.EntryStatusFailed, entry.Status)
		assert.Equal(t, "rejected by pool", entry.Comment)
	})

	t.Run("ErrorHandlerTakesPrecedence", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)
		require.NoError(t, f.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepCreateIdentityWallet, processID),
		}))

		h := &stubHandlers{
			wallet: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{}, service.Recoverable(errors.New("timeout"), "wallet provider unreachable")
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, []models.ProcessStepType{models.StepCreateIdentityWallet}))

		assert.Equal(t, []models.ProcessStepType{models.StepCreateIdentityWallet}, h.calls)

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		walletStep := stepsByType(steps, models.StepCreateIdentityWallet)[0]
		assert.Equal(t, models.StepStatusTodo, walletStep.Status)
		assert.Equal(t, "wallet provider unreachable", walletStep.Message)
		retrigger := stepsByType(steps, models.StepRetriggerIdentityWallet)
		require.Len(t, retrigger, 1, "the configured retrigger step gets scheduled")
		assert.Equal(t, models.StepStatusTodo, retrigger[0].Status)

		entries, err := f.store.GetChecklist(f.applicationID)
		require.NoError(t, err)
		entry := entryByType(t, entries, models.EntryIdentityWallet)
		assert.Equal(t, models.EntryStatusTodo, entry.Status)
		assert.Equal(t, "wallet provider unreachable", entry.Comment)
	})

	t.Run("UnmodifiedStepStaysPending", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)

		h := &stubHandlers{
			push: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{Modified: false}, nil
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		outcomes := collectOutcomes(t, f.store, executor.Execute(context.Background(), process, nil))

		assert.Equal(t, []models.ExecutionOutcome{models.OutcomeUnmodified}, outcomes)
		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusTodo, stepsByType(steps, models.StepCreateBusinessPartnerPush)[0].Status)
	})

	t.Run("ScheduleSkipsExistingTodoStep", func(t *testing.T) {
		f := newFixture(t, "")
		processID := f.seed(t)
		require.NoError(t, f.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepCreateIdentityWallet, processID),
			models.NewProcessStep(models.StepStartClearingHouse, processID),
		}))

		h := &stubHandlers{
			wallet: func(ctx context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
				return models.StepExecutionResult{
					Modified:          true,
					ScheduleStepTypes: []models.ProcessStepType{models.StepStartClearingHouse},
				}, nil
			},
		}
		executor := newChecklistExecutor(f.store, h)
		process, err := f.store.GetProcess(processID)
		require.NoError(t, err)
		collectOutcomes(t, f.store, executor.Execute(context.Background(), process, []models.ProcessStepType{models.StepCreateIdentityWallet}))

		steps, err := f.store.GetProcessSteps(processID)
		require.NoError(t, err)
		assert.Len(t, stepsByType(steps, models.StepStartClearingHouse), 1, "an existing TODO step is not scheduled again")
	})

	t.Run("UnassociatedProcess", func(t *testing.T) {
		store := storage.NewMockStore()
		process := models.NewProcess(models.ApplicationChecklistProcess)
		require.NoError(t, store.CreateProcess(process))
		require.NoError(t, store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepCreateBusinessPartnerPush, process.ID),
		}))

		executor := newChecklistExecutor(store, &stubHandlers{})
		results := executor.Execute(context.Background(), process, nil)
		result, ok := <-results
		require.True(t, ok)
		assert.Error(t, result.Err)
		assert.True(t, service.IsConflict(result.Err))
		_, ok = <-results
		assert.False(t, ok)
	})
}
