package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eclipse-tractusx/portal-backend-sub020/internal/log"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/service"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// Server exposes the checklist view and the manual-trigger entry points
// into the onboarding process.
type Server struct {
	store     storage.Store
	registry  *service.Registry
	checklist *service.ChecklistService
	manual    *service.ManualProcessService
}

func NewServer(store storage.Store, registry *service.Registry) *Server {
	logger := log.GetLogger()
	return &Server{
		store:     store,
		registry:  registry,
		checklist: service.NewChecklistService(store, logger),
		manual:    service.NewManualProcessService(store, logger),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/applications/{applicationID}/checklist", s.handleGetChecklist)
		r.Post("/applications/{applicationID}/checklist", s.handleSeedChecklist)
		r.Post("/applications/{applicationID}/checklist/{stepType}/retrigger", s.handleRetrigger)
		r.Post("/applications/{applicationID}/registration/approve", s.handleApproveRegistration)
		r.Post("/applications/{applicationID}/registration/decline", s.handleDeclineRegistration)
		r.Post("/callback/clearing-house", s.handleClearingHouseCallback)
	})
	return r
}

// StartServer runs the HTTP surface until the listener fails.
func StartServer(port string, store storage.Store, registry *service.Registry) error {
	srv := NewServer(store, registry)
	log.GetLogger().Infof("Starting onboarding server on :%s", port)
	return http.ListenAndServe(":"+port, srv.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "onboarding server is running")
}

func (s *Server) handleGetChecklist(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	entries, err := s.store.GetChecklist(applicationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, service.NewNotFound("no checklist exists for application %s", applicationID))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSeedChecklist(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	entries, err := s.checklist.CreateInitialChecklist(applicationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

// handleRetrigger resolves a manual retrigger step to the automatic step
// it re-enters into the pipeline and finalizes it.
func (s *Server) handleRetrigger(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	stepType := models.ProcessStepType(chi.URLParam(r, "stepType"))
	target, ok := service.RetriggerTarget(stepType)
	if !ok {
		http.Error(w, fmt.Sprintf("step type %s is not a manual retrigger", stepType), http.StatusBadRequest)
		return
	}
	def, err := s.registry.Lookup(stepType)
	if err != nil {
		writeError(w, err)
		return
	}

	mc, err := s.manual.Verify(applicationID, def.EntryType,
		[]models.ChecklistEntryStatus{models.EntryStatusTodo, models.EntryStatusInProgress, models.EntryStatusFailed},
		stepType)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manual.RequestLock(mc, time.Now().Add(service.DefaultLockExpiry)); err != nil {
		writeError(w, err)
		return
	}
	err = s.manual.Finalize(mc, service.FinalizeRequest{
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusInProgress
			e.Comment = ""
		},
		ScheduleStepTypes: []models.ProcessStepType{target},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApproveRegistration is the operator's judgement on the submitted
// registration data. Approval unblocks the activation step.
func (s *Server) handleApproveRegistration(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	mc, err := s.manual.Verify(applicationID, models.EntryRegistrationVerification,
		[]models.ChecklistEntryStatus{models.EntryStatusTodo, models.EntryStatusInProgress},
		models.StepVerifyRegistration)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manual.RequestLock(mc, time.Now().Add(service.DefaultLockExpiry)); err != nil {
		writeError(w, err)
		return
	}
	s.manual.SkipProcessSteps(mc, models.StepDeclineApplication)
	err = s.manual.Finalize(mc, service.FinalizeRequest{
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusDone
			e.Comment = ""
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type declineRequest struct {
	Comment string `json:"comment"`
}

// handleDeclineRegistration fails the registration entry and declines the
// whole application; a declined application accepts no further triggers.
func (s *Server) handleDeclineRegistration(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	var req declineRequest
	if r.Body != nil {
		// body is optional
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	mc, err := s.manual.Verify(applicationID, models.EntryRegistrationVerification,
		[]models.ChecklistEntryStatus{models.EntryStatusTodo, models.EntryStatusInProgress},
		models.StepDeclineApplication)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manual.RequestLock(mc, time.Now().Add(service.DefaultLockExpiry)); err != nil {
		writeError(w, err)
		return
	}
	s.manual.SkipProcessSteps(mc, models.StepVerifyRegistration)
	err = s.manual.Finalize(mc, service.FinalizeRequest{
		ModifyEntry: func(e *models.ChecklistEntry) {
			e.Status = models.EntryStatusFailed
			e.Comment = req.Comment
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateApplicationStatus(applicationID, models.ApplicationDeclined); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clearingHouseCallback struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}

// handleClearingHouseCallback is the external-trigger path of the
// AWAIT_CLEARING_HOUSE_RESPONSE step.
func (s *Server) handleClearingHouseCallback(w http.ResponseWriter, r *http.Request) {
	var cb clearingHouseCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cb.Status != "CONFIRMED" && cb.Status != "DECLINED" {
		http.Error(w, fmt.Sprintf("invalid status %q, expected CONFIRMED or DECLINED", cb.Status), http.StatusBadRequest)
		return
	}

	mc, err := s.manual.Verify(cb.ApplicationID, models.EntryClearingHouse,
		[]models.ChecklistEntryStatus{models.EntryStatusTodo, models.EntryStatusInProgress},
		models.StepAwaitClearingHouseResponse)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manual.RequestLock(mc, time.Now().Add(service.DefaultLockExpiry)); err != nil {
		writeError(w, err)
		return
	}

	message := cb.Message
	if cb.Status == "CONFIRMED" {
		s.manual.SkipProcessSteps(mc, models.StepRetriggerClearingHouse, models.StepOverrideClearingHouse)
		err = s.manual.Finalize(mc, service.FinalizeRequest{
			ModifyEntry: func(e *models.ChecklistEntry) {
				e.Status = models.EntryStatusDone
				e.Comment = message
			},
			ScheduleStepTypes: []models.ProcessStepType{models.StepStartSelfDescription},
		})
	} else {
		err = s.manual.Finalize(mc, service.FinalizeRequest{
			ModifyEntry: func(e *models.ChecklistEntry) {
				e.Status = models.EntryStatusFailed
				e.Comment = message
			},
			ScheduleStepTypes: []models.ProcessStepType{models.StepOverrideClearingHouse},
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case service.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case service.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.GetLogger().Errorf("Internal error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
