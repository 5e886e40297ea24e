package models

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationCreated   ApplicationStatus = "CREATED"
	ApplicationSubmitted ApplicationStatus = "SUBMITTED"
	ApplicationConfirmed ApplicationStatus = "CONFIRMED"
	ApplicationDeclined  ApplicationStatus = "DECLINED"
)

// Company is the organisation behind an application. BusinessPartnerNumber
// may already be known at submission time (e.g. assigned by a previous
// onboarding), in which case the BPN checklist entry is seeded DONE.
type Company struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	Name                  string    `json:"name" db:"name"`
	BusinessPartnerNumber string    `json:"business_partner_number,omitempty" db:"business_partner_number"`
}

// CompanyApplication links a company to its onboarding checklist process.
type CompanyApplication struct {
	ID                 uuid.UUID         `json:"id" db:"id"`
	CompanyID          uuid.UUID         `json:"company_id" db:"company_id"`
	Status             ApplicationStatus `json:"status" db:"status"`
	ChecklistProcessID *uuid.UUID        `json:"checklist_process_id,omitempty" db:"checklist_process_id"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}
