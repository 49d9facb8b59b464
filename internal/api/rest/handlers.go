package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	alertingsvc "github.com/draftforge/experiment-platform/internal/service/alerting"
	automationsvc "github.com/draftforge/experiment-platform/internal/service/automation"
	enginesvc "github.com/draftforge/experiment-platform/internal/service/experiment"
	"github.com/draftforge/experiment-platform/internal/service/integration"
	monitoringsvc "github.com/draftforge/experiment-platform/internal/service/monitoring"
)

// Services bundles everything the HTTP surface exposes.
type Services struct {
	Engine      enginesvc.Service
	Monitoring  monitoringsvc.Service
	Automation  automationsvc.Service
	Alerting    alertingsvc.Service
	Integration integration.Service
}

// Handler translates HTTP requests into service calls.
type Handler struct {
	services Services
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(services Services, logger *zap.Logger) *Handler {
	return &Handler{
		services: services,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// decode unmarshals and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeValidationError(w, "invalid id: must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Experiment lifecycle

func (h *Handler) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	exp, err := h.services.Engine.CreateExperiment(r.Context(), req.toSpec())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (h *Handler) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	all, err := h.services.Engine.ListExperiments(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := all[:0]
		for _, exp := range all {
			if exp.Status == experiment.Status(status) {
				filtered = append(filtered, exp)
			}
		}
		all = filtered
	}

	writeJSON(w, http.StatusOK, listResponse[*experiment.Experiment]{Items: all, Count: len(all)})
}

func (h *Handler) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exp, err := h.services.Engine.GetExperiment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.services.Engine.StartExperiment(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(experiment.StatusRunning)})
}

func (h *Handler) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	results, err := h.services.Engine.StopExperiment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.services.Engine.PauseExperiment(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(experiment.StatusPaused)})
}

func (h *Handler) handleArchiveExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.services.Engine.ArchiveExperiment(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(experiment.StatusArchived)})
}

// Assignment and event tracking

func (h *Handler) handleAssignUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	assignment, err := h.services.Engine.AssignUser(r.Context(), id, req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if assignment == nil {
		// Not running, or the user is outside the target audience.
		writeJSON(w, http.StatusOK, assignResponse{Assigned: false})
		return
	}

	writeJSON(w, http.StatusOK, assignResponse{
		Assigned:   true,
		VariantID:  assignment.VariantID,
		AssignedAt: &assignment.AssignedAt,
	})
}

func (h *Handler) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var req trackEventRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	experimentID := uuid.MustParse(req.ExperimentID) // validated above
	ev := experiment.NewEvent(experimentID, req.VariantID, req.UserID, experiment.EventType(req.Type))
	ev.MetricName = req.MetricName
	ev.Value = req.Value
	ev.Metadata = req.Metadata

	if err := h.services.Engine.TrackEvent(r.Context(), ev); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.ID.String()})
}

// Results and health

func (h *Handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	results, err := h.services.Engine.CalculateResults(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.services.Monitoring.GetHealth(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleGrowthReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, -1, 0)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeValidationError(w, "invalid from: must be RFC 3339")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeValidationError(w, "invalid to: must be RFC 3339")
			return
		}
		to = parsed
	}

	report, err := h.services.Monitoring.CalculateGrowthMetrics(r.Context(), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Automation

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	rule, err := h.services.Automation.CreateRule(r.Context(), req.Name, req.Trigger, req.Action,
		time.Duration(req.CooldownSeconds)*time.Second)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.services.Automation.ListRules(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*automation.Rule]{Items: rules, Count: len(rules)})
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.services.Automation.GetPolicy(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy automation.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := h.services.Automation.UpdatePolicy(r.Context(), &policy); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	entry := &automation.QueueEntry{
		ID:           uuid.New(),
		ExperimentID: uuid.MustParse(req.ExperimentID),
		Priority:     req.Priority,
		AutoStart:    req.AutoStart,
		EnqueuedAt:   time.Now(),
	}
	if req.ScheduledFor != nil {
		entry.ScheduledFor = *req.ScheduledFor
	} else {
		entry.ScheduledFor = entry.EnqueuedAt
	}
	for _, dep := range req.DependsOn {
		entry.DependsOn = append(entry.DependsOn, uuid.MustParse(dep))
	}

	if err := h.services.Automation.EnqueueExperiment(r.Context(), entry); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Alerts

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.services.Alerting.ListUnacknowledged(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": alerts, "count": len(alerts)})
}

func (h *Handler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.services.Alerting.AcknowledgeAlert(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// Integration

func (h *Handler) handleResolveFeature(w http.ResponseWriter, r *http.Request) {
	var req resolveFeatureRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	decision, err := h.services.Integration.ResolveFeature(r.Context(), req.FlagKey, req.UserID, req.Context)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleRecordConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := h.services.Integration.RecordConversion(r.Context(), req.UserID, req.Metric, req.Value, req.Metadata); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
