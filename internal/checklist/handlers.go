package checklist

import (
	"context"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/service"
)

// Handlers implements the business actions behind the automatic checklist
// steps and encodes the stage progression: BPN -> identity wallet ->
// clearing house -> self description -> activation. The external calls
// (BPDM pool, wallet custodian, clearing house, SD factory) are made by
// the deployment; this default wires the step results so the pipeline
// advances once each call succeeds.
type Handlers struct{}

func NewHandlers() *Handlers {
	return &Handlers{}
}

// PushBusinessPartnerNumber completes the BPN stage and skips the parallel
// manual trigger that was seeded alongside the automatic push.
func (h *Handlers) PushBusinessPartnerNumber(_ context.Context, _ service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusDone
		},
		SkipStepTypes:     []models.ProcessStepType{models.StepManualTriggerBusinessPartnerPush},
		ScheduleStepTypes: []models.ProcessStepType{models.StepCreateIdentityWallet},
	}, nil
}

func (h *Handlers) PullBusinessPartnerNumber(_ context.Context, _ service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusDone
		},
		ScheduleStepTypes: []models.ProcessStepType{models.StepCreateIdentityWallet},
	}, nil
}

func (h *Handlers) CreateIdentityWallet(_ context.Context, _ service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusDone
		},
		ScheduleStepTypes: []models.ProcessStepType{models.StepStartClearingHouse},
	}, nil
}

// StartClearingHouse hands the application to the clearing house; the
// entry stays IN_PROGRESS until the callback resolves the
// AWAIT_CLEARING_HOUSE_RESPONSE step.
func (h *Handlers) StartClearingHouse(_ context.Context, _ service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusInProgress
		},
		ScheduleStepTypes: []models.ProcessStepType{models.StepAwaitClearingHouseResponse},
	}, nil
}

// StartSelfDescription hands the application to the SD factory; the entry
// stays IN_PROGRESS until the FINISH_SELF_DESCRIPTION_LP callback.
func (h *Handlers) StartSelfDescription(_ context.Context, _ service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusInProgress
		},
		ScheduleStepTypes: []models.ProcessStepType{models.StepFinishSelfDescription},
	}, nil
}

// ActivateApplication only completes once an operator has approved the
// registration; until then the step stays pending and is picked up again
// on the next poll cycle.
func (h *Handlers) ActivateApplication(_ context.Context, ec service.ExecutionContext) (models.StepExecutionResult, error) {
	if ec.Checklist[models.EntryRegistrationVerification].Status != models.EntryStatusDone {
		return models.StepExecutionResult{}, nil
	}
	return models.StepExecutionResult{
		Modified: true,
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusDone
		},
	}, nil
}
