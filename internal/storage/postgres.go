package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *PostgresStore) CreateProcess(p models.Process) error {
	_, err := s.db.Exec("INSERT INTO processes (id, type, version, lock_expiry) VALUES ($1, $2, $3, $4)",
		p.ID, p.Type, p.Version, p.LockExpiry)
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProcess(id uuid.UUID) (models.Process, error) {
	var p models.Process
	err := s.db.Get(&p, "SELECT id, type, version, lock_expiry FROM processes WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Process{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Process{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetActiveProcesses(types []models.ProcessType, stepTypes []models.ProcessStepType, now time.Time) ([]models.Process, error) {
	if len(types) == 0 || len(stepTypes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT p.id, p.type, p.version, p.lock_expiry
		FROM processes p
		JOIN process_steps ps ON ps.process_id = p.id
		WHERE p.type IN (?)
		  AND ps.type IN (?)
		  AND ps.status = ?
		  AND (p.lock_expiry IS NULL OR p.lock_expiry <= ?)`,
		types, stepTypes, models.StepStatusTodo, now)
	if err != nil {
		return nil, fmt.Errorf("get active processes: %w", err)
	}
	processes := []models.Process{}
	if err := s.db.Select(&processes, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get active processes: %w", err)
	}
	return processes, nil
}

// SaveProcess writes the process row only when the stored version still
// matches expectedVersion; zero affected rows surfaces as
// ErrVersionConflict.
func (s *PostgresStore) SaveProcess(p models.Process, expectedVersion uuid.UUID) error {
	res, err := s.db.Exec("UPDATE processes SET version = $1, lock_expiry = $2 WHERE id = $3 AND version = $4",
		p.Version, p.LockExpiry, p.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("save process %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) CreateProcessSteps(steps []models.ProcessStep) error {
	if len(steps) == 0 {
		return nil
	}
	_, err := s.db.NamedExec(`
		INSERT INTO process_steps (id, type, status, process_id, message, last_changed)
		VALUES (:id, :type, :status, :process_id, :message, :last_changed)`, steps)
	if err != nil {
		return fmt.Errorf("create process steps: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProcessSteps(processID uuid.UUID) ([]models.ProcessStep, error) {
	steps := []models.ProcessStep{}
	err := s.db.Select(&steps, "SELECT * FROM process_steps WHERE process_id = $1 ORDER BY last_changed, id", processID)
	if err != nil {
		return nil, fmt.Errorf("get process steps for %s: %w", processID, err)
	}
	return steps, nil
}

func (s *PostgresStore) UpdateProcessStep(step models.ProcessStep) error {
	_, err := s.db.Exec("UPDATE process_steps SET status = $1, message = $2, last_changed = $3 WHERE id = $4",
		step.Status, step.Message, step.LastChanged, step.ID)
	return err
}

func (s *PostgresStore) CreateCompany(c models.Company) error {
	_, err := s.db.Exec("INSERT INTO companies (id, name, business_partner_number) VALUES ($1, $2, $3)",
		c.ID, c.Name, c.BusinessPartnerNumber)
	return err
}

func (s *PostgresStore) GetCompany(id uuid.UUID) (models.Company, error) {
	var c models.Company
	err := s.db.Get(&c, "SELECT * FROM companies WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Company{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Company{}, err
	}
	return c, nil
}

func (s *PostgresStore) CreateApplication(a models.CompanyApplication) error {
	_, err := s.db.Exec(`
		INSERT INTO company_applications (id, company_id, status, checklist_process_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.CompanyID, a.Status, a.ChecklistProcessID, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PostgresStore) GetApplication(id uuid.UUID) (models.CompanyApplication, error) {
	var a models.CompanyApplication
	err := s.db.Get(&a, "SELECT * FROM company_applications WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.CompanyApplication{}, storage.ErrNotFound
	}
	if err != nil {
		return models.CompanyApplication{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListApplications() ([]models.CompanyApplication, error) {
	applications := []models.CompanyApplication{}
	err := s.db.Select(&applications, "SELECT * FROM company_applications ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return applications, nil
}

func (s *PostgresStore) UpdateApplicationStatus(applicationID uuid.UUID, status models.ApplicationStatus) error {
	res, err := s.db.Exec("UPDATE company_applications SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		status, applicationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AssignChecklistProcess(applicationID, processID uuid.UUID) error {
	res, err := s.db.Exec("UPDATE company_applications SET checklist_process_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		processID, applicationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateChecklistEntries(entries []models.ChecklistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.db.NamedExec(`
		INSERT INTO application_checklist (application_id, type, status, comment, last_changed)
		VALUES (:application_id, :type, :status, :comment, :last_changed)`, entries)
	if err != nil {
		return fmt.Errorf("create checklist entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChecklist(applicationID uuid.UUID) ([]models.ChecklistEntry, error) {
	entries := []models.ChecklistEntry{}
	err := s.db.Select(&entries, "SELECT * FROM application_checklist WHERE application_id = $1 ORDER BY type", applicationID)
	if err != nil {
		return nil, fmt.Errorf("get checklist for %s: %w", applicationID, err)
	}
	return entries, nil
}

func (s *PostgresStore) UpdateChecklistEntry(e models.ChecklistEntry) error {
	_, err := s.db.Exec("UPDATE application_checklist SET status = $1, comment = $2, last_changed = $3 WHERE application_id = $4 AND type = $5",
		e.Status, e.Comment, e.LastChanged, e.ApplicationID, e.Type)
	return err
}

func (s *PostgresStore) GetChecklistData(processID uuid.UUID) (models.ChecklistData, error) {
	var a models.CompanyApplication
	err := s.db.Get(&a, "SELECT * FROM company_applications WHERE checklist_process_id = $1", processID)
	if err == sql.ErrNoRows {
		return models.ChecklistData{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ChecklistData{}, err
	}
	entries, err := s.GetChecklist(a.ID)
	if err != nil {
		return models.ChecklistData{}, err
	}
	steps, err := s.GetProcessSteps(processID)
	if err != nil {
		return models.ChecklistData{}, err
	}
	return models.ChecklistData{
		ApplicationID: a.ID,
		ProcessID:     processID,
		Entries:       entries,
		Steps:         steps,
	}, nil
}
