package models

import (
	"time"

	"github.com/google/uuid"
)

type ProcessStepType string

const (
	// business partner number
	StepCreateBusinessPartnerPush        ProcessStepType = "CREATE_BUSINESS_PARTNER_NUMBER_PUSH"
	StepCreateBusinessPartnerPull        ProcessStepType = "CREATE_BUSINESS_PARTNER_NUMBER_PULL"
	StepManualTriggerBusinessPartnerPush ProcessStepType = "MANUAL_TRIGGER_BUSINESS_PARTNER_NUMBER_PUSH"
	StepRetriggerBusinessPartnerPush     ProcessStepType = "RETRIGGER_BUSINESS_PARTNER_NUMBER_PUSH"
	StepRetriggerBusinessPartnerPull     ProcessStepType = "RETRIGGER_BUSINESS_PARTNER_NUMBER_PULL"
	StepOverrideBusinessPartnerNumber    ProcessStepType = "OVERRIDE_BUSINESS_PARTNER_NUMBER"

	// identity wallet
	StepCreateIdentityWallet    ProcessStepType = "CREATE_IDENTITY_WALLET"
	StepRetriggerIdentityWallet ProcessStepType = "RETRIGGER_IDENTITY_WALLET"

	// clearing house
	StepStartClearingHouse         ProcessStepType = "START_CLEARING_HOUSE"
	StepAwaitClearingHouseResponse ProcessStepType = "AWAIT_CLEARING_HOUSE_RESPONSE"
	StepRetriggerClearingHouse     ProcessStepType = "RETRIGGER_CLEARING_HOUSE"
	StepOverrideClearingHouse      ProcessStepType = "TRIGGER_OVERRIDE_CLEARING_HOUSE"

	// self description
	StepStartSelfDescription     ProcessStepType = "START_SELF_DESCRIPTION_LP"
	StepFinishSelfDescription    ProcessStepType = "FINISH_SELF_DESCRIPTION_LP"
	StepRetriggerSelfDescription ProcessStepType = "RETRIGGER_SELF_DESCRIPTION_LP"

	// registration verification
	StepVerifyRegistration ProcessStepType = "VERIFY_REGISTRATION"
	StepDeclineApplication ProcessStepType = "DECLINE_APPLICATION"

	// activation
	StepActivateApplication          ProcessStepType = "ACTIVATE_APPLICATION"
	StepRetriggerActivateApplication ProcessStepType = "RETRIGGER_ACTIVATE_APPLICATION"
)

type ProcessStepStatus string

const (
	StepStatusTodo      ProcessStepStatus = "TODO"
	StepStatusDone      ProcessStepStatus = "DONE"
	StepStatusFailed    ProcessStepStatus = "FAILED"
	StepStatusSkipped   ProcessStepStatus = "SKIPPED"
	StepStatusDuplicate ProcessStepStatus = "DUPLICATE"
)

// ProcessStep advances one checklist entry. Among all steps of one type on a
// process at most one may be TODO; extras are marked DUPLICATE. Terminal
// states are never re-opened, a retry creates a new TODO step instead.
type ProcessStep struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Type        ProcessStepType   `json:"type" db:"type"`
	Status      ProcessStepStatus `json:"status" db:"status"`
	ProcessID   uuid.UUID         `json:"process_id" db:"process_id"`
	Message     string            `json:"message,omitempty" db:"message"`
	LastChanged time.Time         `json:"last_changed" db:"last_changed"`
}

// NewProcessStep creates a TODO step attached to the given process.
func NewProcessStep(pt ProcessStepType, processID uuid.UUID) ProcessStep {
	return ProcessStep{
		ID:          uuid.New(),
		Type:        pt,
		Status:      StepStatusTodo,
		ProcessID:   processID,
		LastChanged: time.Now().UTC(),
	}
}
