package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
)

// ExecutionContext is the snapshot handed to a step function: the
// application being onboarded, its checklist by entry type and the step
// types still pending in the current dispatch.
type ExecutionContext struct {
	ApplicationID    uuid.UUID
	ProcessID        uuid.UUID
	Checklist        map[models.ChecklistEntryType]models.ChecklistEntry
	PendingStepTypes []models.ProcessStepType
}

// StepFunc performs the business action behind a step. Implementations may
// await external I/O and must be safely retriable: a crashed worker's lock
// expires and the step runs again.
type StepFunc func(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)

// ErrorFunc converts a step failure into a result, typically requeueing the
// step and scheduling a manual retrigger.
type ErrorFunc func(ctx context.Context, ec ExecutionContext, execErr error) (models.StepExecutionResult, error)

// StepDefinition binds a step type to the checklist entry it advances and
// its execution function. Lock marks steps that hand control to an external
// system and therefore need the process locked before running.
type StepDefinition struct {
	EntryType models.ChecklistEntryType
	Execute   StepFunc
	OnError   ErrorFunc
	Lock      bool
}

// manualStepTypes is the static classification table: these step types are
// only advanced by an operator or an external callback, never claimed by
// the worker.
var manualStepTypes = map[models.ProcessStepType]struct{}{
	models.StepManualTriggerBusinessPartnerPush: {},
	models.StepRetriggerBusinessPartnerPush:     {},
	models.StepRetriggerBusinessPartnerPull:     {},
	models.StepOverrideBusinessPartnerNumber:    {},
	models.StepRetriggerIdentityWallet:          {},
	models.StepAwaitClearingHouseResponse:       {},
	models.StepRetriggerClearingHouse:           {},
	models.StepOverrideClearingHouse:            {},
	models.StepFinishSelfDescription:            {},
	models.StepRetriggerSelfDescription:         {},
	models.StepVerifyRegistration:               {},
	models.StepDeclineApplication:               {},
	models.StepRetriggerActivateApplication:     {},
}

// retriggerTargets maps a manual retrigger step to the automatic step it
// re-enters into the pipeline.
var retriggerTargets = map[models.ProcessStepType]models.ProcessStepType{
	models.StepManualTriggerBusinessPartnerPush: models.StepCreateBusinessPartnerPush,
	models.StepRetriggerBusinessPartnerPush:     models.StepCreateBusinessPartnerPush,
	models.StepRetriggerBusinessPartnerPull:     models.StepCreateBusinessPartnerPull,
	models.StepRetriggerIdentityWallet:          models.StepCreateIdentityWallet,
	models.StepRetriggerClearingHouse:           models.StepStartClearingHouse,
	models.StepRetriggerSelfDescription:         models.StepStartSelfDescription,
	models.StepRetriggerActivateApplication:     models.StepActivateApplication,
}

// IsManualStepType reports whether t requires an operator or external
// trigger.
func IsManualStepType(t models.ProcessStepType) bool {
	_, ok := manualStepTypes[t]
	return ok
}

// RetriggerTarget resolves the automatic step a manual retrigger schedules.
func RetriggerTarget(t models.ProcessStepType) (models.ProcessStepType, bool) {
	target, ok := retriggerTargets[t]
	return target, ok
}

// Registry maps step types to their definitions. It is built once at
// startup and immutable afterwards.
type Registry struct {
	defs map[models.ProcessStepType]StepDefinition
}

func NewRegistry(defs map[models.ProcessStepType]StepDefinition) *Registry {
	copied := make(map[models.ProcessStepType]StepDefinition, len(defs))
	for t, d := range defs {
		copied[t] = d
	}
	return &Registry{defs: copied}
}

// Lookup resolves the definition for a step type.
func (r *Registry) Lookup(t models.ProcessStepType) (StepDefinition, error) {
	def, ok := r.defs[t]
	if !ok {
		return StepDefinition{}, NewConflict("no step definition registered for step type %s", t)
	}
	return def, nil
}

// IsManual reports whether t is operator/external-trigger only.
func (r *Registry) IsManual(t models.ProcessStepType) bool {
	return IsManualStepType(t)
}

// AutomaticStepTypes returns the registered step types the worker claims
// and executes itself.
func (r *Registry) AutomaticStepTypes() []models.ProcessStepType {
	var out []models.ProcessStepType
	for t := range r.defs {
		if !IsManualStepType(t) {
			out = append(out, t)
		}
	}
	return out
}

// ChecklistHandlers supplies the business actions behind the automatic
// checklist steps. Implementations are external collaborators (BPDM pool,
// wallet provider, clearing house, SD factory).
type ChecklistHandlers interface {
	PushBusinessPartnerNumber(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
	PullBusinessPartnerNumber(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
	CreateIdentityWallet(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
	StartClearingHouse(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
	StartSelfDescription(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
	ActivateApplication(ctx context.Context, ec ExecutionContext) (models.StepExecutionResult, error)
}

// RequeueOnRecoverable builds the standard error handler: a recoverable
// failure puts the step back to TODO and schedules the manual retrigger; a
// non-recoverable one fails the step and entry and schedules the manual
// override.
func RequeueOnRecoverable(retrigger, override models.ProcessStepType) ErrorFunc {
	return func(_ context.Context, _ ExecutionContext, execErr error) (models.StepExecutionResult, error) {
		comment := execErr.Error()
		if IsRecoverable(execErr) {
			return models.StepExecutionResult{
				Modified:          true,
				StepStatus:        models.StepStatusTodo,
				StepMessage:       comment,
				ScheduleStepTypes: []models.ProcessStepType{retrigger},
				ModifyEntry: func(e *models.ChecklistEntry) {
					e.Comment = comment
				},
			}, nil
		}
		return models.StepExecutionResult{
			Modified:          true,
			StepStatus:        models.StepStatusFailed,
			StepMessage:       comment,
			ScheduleStepTypes: []models.ProcessStepType{override},
			ModifyEntry: func(e *models.ChecklistEntry) {
				e.Status = models.EntryStatusFailed
				e.Comment = comment
			},
		}, nil
	}
}

// DefaultChecklistDefinitions builds the step table for the application
// checklist process. The BPN push and pull steps carry no error handler on
// purpose: the dispatcher's default classification covers them.
func DefaultChecklistDefinitions(h ChecklistHandlers) map[models.ProcessStepType]StepDefinition {
	return map[models.ProcessStepType]StepDefinition{
		models.StepCreateBusinessPartnerPush: {
			EntryType: models.EntryBusinessPartnerNumber,
			Execute:   h.PushBusinessPartnerNumber,
		},
		models.StepCreateBusinessPartnerPull: {
			EntryType: models.EntryBusinessPartnerNumber,
			Execute:   h.PullBusinessPartnerNumber,
		},
		models.StepManualTriggerBusinessPartnerPush: {
			EntryType: models.EntryBusinessPartnerNumber,
		},
		models.StepRetriggerBusinessPartnerPush: {
			EntryType: models.EntryBusinessPartnerNumber,
		},
		models.StepRetriggerBusinessPartnerPull: {
			EntryType: models.EntryBusinessPartnerNumber,
		},
		models.StepOverrideBusinessPartnerNumber: {
			EntryType: models.EntryBusinessPartnerNumber,
		},
		models.StepCreateIdentityWallet: {
			EntryType: models.EntryIdentityWallet,
			Execute:   h.CreateIdentityWallet,
			OnError:   RequeueOnRecoverable(models.StepRetriggerIdentityWallet, models.StepRetriggerIdentityWallet),
		},
		models.StepRetriggerIdentityWallet: {
			EntryType: models.EntryIdentityWallet,
		},
		models.StepStartClearingHouse: {
			EntryType: models.EntryClearingHouse,
			Execute:   h.StartClearingHouse,
			OnError:   RequeueOnRecoverable(models.StepRetriggerClearingHouse, models.StepOverrideClearingHouse),
			Lock:      true,
		},
		models.StepAwaitClearingHouseResponse: {
			EntryType: models.EntryClearingHouse,
		},
		models.StepRetriggerClearingHouse: {
			EntryType: models.EntryClearingHouse,
		},
		models.StepOverrideClearingHouse: {
			EntryType: models.EntryClearingHouse,
		},
		models.StepStartSelfDescription: {
			EntryType: models.EntrySelfDescription,
			Execute:   h.StartSelfDescription,
			OnError:   RequeueOnRecoverable(models.StepRetriggerSelfDescription, models.StepRetriggerSelfDescription),
			Lock:      true,
		},
		models.StepFinishSelfDescription: {
			EntryType: models.EntrySelfDescription,
		},
		models.StepRetriggerSelfDescription: {
			EntryType: models.EntrySelfDescription,
		},
		models.StepVerifyRegistration: {
			EntryType: models.EntryRegistrationVerification,
		},
		models.StepDeclineApplication: {
			EntryType: models.EntryRegistrationVerification,
		},
		models.StepActivateApplication: {
			EntryType: models.EntryApplicationActivation,
			Execute:   h.ActivateApplication,
			OnError:   RequeueOnRecoverable(models.StepRetriggerActivateApplication, models.StepRetriggerActivateApplication),
		},
		models.StepRetriggerActivateApplication: {
			EntryType: models.EntryApplicationActivation,
		},
	}
}
