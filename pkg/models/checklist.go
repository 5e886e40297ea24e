package models

import (
	"time"

	"github.com/google/uuid"
)

type ChecklistEntryType string

const (
	EntryRegistrationVerification ChecklistEntryType = "REGISTRATION_VERIFICATION"
	EntryBusinessPartnerNumber    ChecklistEntryType = "BUSINESS_PARTNER_NUMBER"
	EntryIdentityWallet           ChecklistEntryType = "IDENTITY_WALLET"
	EntryClearingHouse            ChecklistEntryType = "CLEARING_HOUSE"
	EntrySelfDescription          ChecklistEntryType = "SELF_DESCRIPTION_LP"
	EntryApplicationActivation    ChecklistEntryType = "APPLICATION_ACTIVATION"
)

// ChecklistEntryTypes lists every entry type in a fixed order; seeding
// creates exactly one entry per type and application.
func ChecklistEntryTypes() []ChecklistEntryType {
	return []ChecklistEntryType{
		EntryRegistrationVerification,
		EntryBusinessPartnerNumber,
		EntryIdentityWallet,
		EntryClearingHouse,
		EntrySelfDescription,
		EntryApplicationActivation,
	}
}

type ChecklistEntryStatus string

const (
	EntryStatusTodo       ChecklistEntryStatus = "TO_DO"
	EntryStatusInProgress ChecklistEntryStatus = "IN_PROGRESS"
	EntryStatusDone       ChecklistEntryStatus = "DONE"
	EntryStatusFailed     ChecklistEntryStatus = "FAILED"
)

// ChecklistEntry is the externally visible roll-up of all steps that target
// one business check. Keyed by (ApplicationID, Type), created once at
// seeding and never duplicated.
type ChecklistEntry struct {
	ApplicationID uuid.UUID            `json:"application_id" db:"application_id"`
	Type          ChecklistEntryType   `json:"type" db:"type"`
	Status        ChecklistEntryStatus `json:"status" db:"status"`
	Comment       string               `json:"comment,omitempty" db:"comment"`
	LastChanged   time.Time            `json:"last_changed" db:"last_changed"`
}

// ChecklistData is the per-application snapshot consumed by the checklist
// executor: the entries, every process step of the checklist process and
// the process they belong to.
type ChecklistData struct {
	ApplicationID uuid.UUID
	ProcessID     uuid.UUID
	Entries       []ChecklistEntry
	Steps         []ProcessStep
}
