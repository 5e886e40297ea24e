package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_http "github.com/eclipse-tractusx/portal-backend-sub020/internal/http"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/service"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

type noopHandlers struct{}

func (noopHandlers) PushBusinessPartnerNumber(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

func (noopHandlers) PullBusinessPartnerNumber(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

func (noopHandlers) CreateIdentityWallet(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

func (noopHandlers) StartClearingHouse(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

func (noopHandlers) StartSelfDescription(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

func (noopHandlers) ActivateApplication(context.Context, service.ExecutionContext) (models.StepExecutionResult, error) {
	return models.StepExecutionResult{Modified: true}, nil
}

type testEnv struct {
	store         *storage.MockStore
	server        *httptest.Server
	applicationID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMockStore()
	company := models.Company{ID: uuid.New(), Name: "ACME Corp"}
	require.NoError(t, store.CreateCompany(company))
	now := time.Now().UTC()
	app := models.CompanyApplication{
		ID:        uuid.New(),
		CompanyID: company.ID,
		Status:    models.ApplicationSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateApplication(app))

	registry := service.NewRegistry(service.DefaultChecklistDefinitions(noopHandlers{}))
	server := httptest.NewServer(internal_http.NewServer(store, registry).Router())
	t.Cleanup(server.Close)
	return &testEnv{store: store, server: server, applicationID: app.ID}
}

func (e *testEnv) seed(t *testing.T) uuid.UUID {
	t.Helper()
	resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist", e.server.URL, e.applicationID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	app, err := e.store.GetApplication(e.applicationID)
	require.NoError(t, err)
	require.NotNil(t, app.ChecklistProcessID)
	return *app.ChecklistProcessID
}

func (e *testEnv) entry(t *testing.T, et models.ChecklistEntryType) models.ChecklistEntry {
	t.Helper()
	entries, err := e.store.GetChecklist(e.applicationID)
	require.NoError(t, err)
	for _, entry := range entries {
		if entry.Type == et {
			return entry
		}
	}
	t.Fatalf("no checklist entry of type %s", et)
	return models.ChecklistEntry{}
}

func TestServer(t *testing.T) {

	t.Run("Health", func(t *testing.T) {
		env := newTestEnv(t)
		resp, err := http.Get(env.server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("SeedAndGetChecklist", func(t *testing.T) {
		env := newTestEnv(t)

		// no checklist yet
		resp, err := http.Get(fmt.Sprintf("%s/api/applications/%s/checklist", env.server.URL, env.applicationID))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		env.seed(t)

		resp, err = http.Get(fmt.Sprintf("%s/api/applications/%s/checklist", env.server.URL, env.applicationID))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var entries []models.ChecklistEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		assert.Len(t, entries, len(models.ChecklistEntryTypes()))
	})

	t.Run("SeedUnknownApplication", func(t *testing.T) {
		env := newTestEnv(t)
		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist", env.server.URL, uuid.New()), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("SeedUnsubmittedApplication", func(t *testing.T) {
		env := newTestEnv(t)
		app := models.CompanyApplication{
			ID:     uuid.New(),
			Status: models.ApplicationCreated,
		}
		require.NoError(t, env.store.CreateApplication(app))
		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist", env.server.URL, app.ID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("Retrigger", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)
		require.NoError(t, env.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepRetriggerClearingHouse, processID),
		}))

		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist/%s/retrigger",
			env.server.URL, env.applicationID, models.StepRetriggerClearingHouse), "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		steps, err := env.store.GetProcessSteps(processID)
		require.NoError(t, err)
		var retriggerStatus models.ProcessStepStatus
		targetCreated := false
		for _, s := range steps {
			if s.Type == models.StepRetriggerClearingHouse {
				retriggerStatus = s.Status
			}
			if s.Type == models.StepStartClearingHouse && s.Status == models.StepStatusTodo {
				targetCreated = true
			}
		}
		assert.Equal(t, models.StepStatusDone, retriggerStatus)
		assert.True(t, targetCreated, "the automatic target step gets scheduled")
		assert.Equal(t, models.EntryStatusInProgress, env.entry(t, models.EntryClearingHouse).Status)

		process, err := env.store.GetProcess(processID)
		require.NoError(t, err)
		assert.Nil(t, process.LockExpiry)
	})

	t.Run("RetriggerNotAManualStep", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t)
		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist/%s/retrigger",
			env.server.URL, env.applicationID, models.StepCreateBusinessPartnerPush), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("RetriggerWithoutPendingStep", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t)
		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/checklist/%s/retrigger",
			env.server.URL, env.applicationID, models.StepRetriggerClearingHouse), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("ApproveRegistration", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)

		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/registration/approve",
			env.server.URL, env.applicationID), "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		assert.Equal(t, models.EntryStatusDone, env.entry(t, models.EntryRegistrationVerification).Status)

		steps, err := env.store.GetProcessSteps(processID)
		require.NoError(t, err)
		for _, s := range steps {
			switch s.Type {
			case models.StepVerifyRegistration:
				assert.Equal(t, models.StepStatusDone, s.Status)
			case models.StepDeclineApplication:
				assert.Equal(t, models.StepStatusSkipped, s.Status, "approval retires the decline trigger")
			}
		}

		process, err := env.store.GetProcess(processID)
		require.NoError(t, err)
		assert.Nil(t, process.LockExpiry)

		// the approval consumed the trigger step, a repeat has nothing to act on
		resp, err = http.Post(fmt.Sprintf("%s/api/applications/%s/registration/approve",
			env.server.URL, env.applicationID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("DeclineRegistration", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)

		body, _ := json.Marshal(map[string]string{"comment": "incomplete registration data"})
		resp, err := http.Post(fmt.Sprintf("%s/api/applications/%s/registration/decline",
			env.server.URL, env.applicationID), "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		entry := env.entry(t, models.EntryRegistrationVerification)
		assert.Equal(t, models.EntryStatusFailed, entry.Status)
		assert.Equal(t, "incomplete registration data", entry.Comment)

		steps, err := env.store.GetProcessSteps(processID)
		require.NoError(t, err)
		for _, s := range steps {
			switch s.Type {
			case models.StepDeclineApplication:
				assert.Equal(t, models.StepStatusDone, s.Status)
			case models.StepVerifyRegistration:
				assert.Equal(t, models.StepStatusSkipped, s.Status, "a decline retires the approve trigger")
			}
		}

		app, err := env.store.GetApplication(env.applicationID)
		require.NoError(t, err)
		assert.Equal(t, models.ApplicationDeclined, app.Status)

		// a declined application is no longer in a triggerable state
		resp, err = http.Post(fmt.Sprintf("%s/api/applications/%s/registration/approve",
			env.server.URL, env.applicationID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("ClearingHouseCallbackConfirmed", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)
		require.NoError(t, env.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepAwaitClearingHouseResponse, processID),
		}))

		body, _ := json.Marshal(map[string]interface{}{
			"application_id": env.applicationID,
			"status":         "CONFIRMED",
			"message":        "all checks passed",
		})
		resp, err := http.Post(env.server.URL+"/api/callback/clearing-house", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		entry := env.entry(t, models.EntryClearingHouse)
		assert.Equal(t, models.EntryStatusDone, entry.Status)
		assert.Equal(t, "all checks passed", entry.Comment)

		steps, err := env.store.GetProcessSteps(processID)
		require.NoError(t, err)
		selfDescription := false
		for _, s := range steps {
			if s.Type == models.StepStartSelfDescription && s.Status == models.StepStatusTodo {
				selfDescription = true
			}
		}
		assert.True(t, selfDescription, "a confirmation schedules the self description step")
	})

	t.Run("ClearingHouseCallbackDeclined", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)
		require.NoError(t, env.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepAwaitClearingHouseResponse, processID),
		}))

		body, _ := json.Marshal(map[string]interface{}{
			"application_id": env.applicationID,
			"status":         "DECLINED",
			"message":        "sanctions list match",
		})
		resp, err := http.Post(env.server.URL+"/api/callback/clearing-house", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		entry := env.entry(t, models.EntryClearingHouse)
		assert.Equal(t, models.EntryStatusFailed, entry.Status)
		assert.Equal(t, "sanctions list match", entry.Comment)

		steps, err := env.store.GetProcessSteps(processID)
		require.NoError(t, err)
		override := false
		for _, s := range steps {
			if s.Type == models.StepOverrideClearingHouse && s.Status == models.StepStatusTodo {
				override = true
			}
		}
		assert.True(t, override, "a decline schedules the manual override step")
	})

	t.Run("ClearingHouseCallbackInvalidStatus", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t)
		body, _ := json.Marshal(map[string]interface{}{
			"application_id": env.applicationID,
			"status":         "MAYBE",
		})
		resp, err := http.Post(env.server.URL+"/api/callback/clearing-house", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ClearingHouseCallbackLockedProcess", func(t *testing.T) {
		env := newTestEnv(t)
		processID := env.seed(t)
		require.NoError(t, env.store.CreateProcessSteps([]models.ProcessStep{
			models.NewProcessStep(models.StepAwaitClearingHouseResponse, processID),
		}))
		process, err := env.store.GetProcess(processID)
		require.NoError(t, err)
		expiry := time.Now().Add(10 * time.Minute)
		locked := process
		locked.LockExpiry = &expiry
		require.NoError(t, env.store.SaveProcess(locked, process.Version))

		body, _ := json.Marshal(map[string]interface{}{
			"application_id": env.applicationID,
			"status":         "CONFIRMED",
		})
		resp, err := http.Post(env.server.URL+"/api/callback/clearing-house", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}
