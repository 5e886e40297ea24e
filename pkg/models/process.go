package models

import (
	"time"

	"github.com/google/uuid"
)

type ProcessType string

const (
	ApplicationChecklistProcess ProcessType = "APPLICATION_CHECKLIST"
)

// Process is the unit of work shared by all worker instances. Version is an
// opaque token replaced on every committed mutation; a writer must present
// the version it last read. LockExpiry is a soft lock: while it lies in the
// future the process must not be claimed by the poll loop or a second
// manual trigger.
type Process struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Type       ProcessType `json:"type" db:"type"`
	Version    uuid.UUID   `json:"version" db:"version"`
	LockExpiry *time.Time  `json:"lock_expiry,omitempty" db:"lock_expiry"`
}

// NewProcess creates a process with a fresh id and version token.
func NewProcess(pt ProcessType) Process {
	return Process{
		ID:      uuid.New(),
		Type:    pt,
		Version: uuid.New(),
	}
}

// Locked reports whether the process carries a non-expired lock at now.
func (p Process) Locked(now time.Time) bool {
	return p.LockExpiry != nil && p.LockExpiry.After(now)
}
