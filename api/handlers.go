/*
handlers.go - HTTP API handlers for the incentive engine

PURPOSE:
  Exposes objectives, incentives, tasks and their evaluation via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  incentive package.

ENDPOINTS:
  Evaluation:
    GET    /api/objectives/{id}/evaluation  {result, message}
    GET    /api/objectives/{id}/report      Evaluation with a written narrative

  Objectives:
    GET    /api/objectives                  List objectives
    POST   /api/objectives                  Create or replace an objective
    GET    /api/objectives/{id}             Get objective
    DELETE /api/objectives/{id}             Delete objective and its tasks
    GET    /api/objectives/{id}/tasks       Tasks of an objective

  Incentives:
    GET    /api/incentives                  List incentives
    POST   /api/incentives                  Create or replace an incentive
    GET    /api/incentives/{id}             Get incentive
    DELETE /api/incentives/{id}             Delete incentive

  Tasks:
    POST   /api/tasks                       Create or replace a task
    GET    /api/tasks/{id}                  Get task
    PUT    /api/tasks/{id}/completed        Toggle completion
    DELETE /api/tasks/{id}                  Delete task

  Settlements:
    GET    /api/settlements                 List settlements
    GET    /api/settlements/{id}            Settlement of an objective
    POST   /api/settlements/run             Settle every due objective (admin)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Repo: Typed access to the document store
  - Evaluator: Evaluation with lookups
  - Settler: Freezes evaluations of finished objectives
  - Narrator: Optional prose for reports

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already settled, concurrent modification)
  - 500: Internal errors, malformed stored data
  - 503: Narration not configured

  Evaluation outcomes such as "Incentive not found" are 200 responses; only
  a missing objective is a 404.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Bundled scenario loader
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/narrator"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ReportNarrator writes the narrative of a report.
type ReportNarrator interface {
	Narrate(ctx context.Context, obj incentive.Objective, inc *incentive.Incentive, ev incentive.Evaluation) (narrator.Report, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo      *incentive.Repository
	Evaluator *incentive.Evaluator
	Settler   *incentive.Settler
	Factory   *factory.IncentiveFactory
	Narrator  ReportNarrator // nil disables /report
	Metrics   *Metrics       // nil disables /metrics

	// Now is the evaluation clock.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over repo. When m is non-nil every evaluation
// is recorded in it.
func NewHandler(repo *incentive.Repository, m *Metrics) *Handler {
	ev := incentive.NewEvaluator(repo, repo, repo)
	if m != nil {
		ev = ev.WithObserver(m.ObserveEvaluation)
	}
	return &Handler{
		Repo:      repo,
		Evaluator: ev,
		Settler:   incentive.NewSettler(repo, ev),
		Factory:   factory.NewIncentiveFactory(),
		Metrics:   m,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

// =============================================================================
// EVALUATION ENDPOINTS
// =============================================================================

// GetEvaluation evaluates an objective at the current instant.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := incentive.ObjectiveID(chi.URLParam(r, "id"))

	_, ev, err := h.Evaluator.EvaluateByID(r.Context(), id, h.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EvaluationResponse{Result: ev.Result, Message: ev.Message})
}

// GetReport evaluates an objective and asks the narrator to explain it.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.Narrator == nil {
		writeError(w, http.StatusServiceUnavailable, "Report narration is not configured", nil)
		return
	}

	ctx := r.Context()
	id := incentive.ObjectiveID(chi.URLParam(r, "id"))
	now := h.now()

	obj, ev, err := h.Evaluator.EvaluateByID(ctx, id, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var inc *incentive.Incentive
	if obj.HasIncentive() {
		found, err := h.Repo.GetIncentive(ctx, obj.IncentiveID)
		if err == nil {
			inc = &found
		}
	}

	resp := ReportResponse{
		ObjectiveID: string(obj.ID),
		Result:      ev.Result,
		Message:     ev.Message,
		Outcome:     string(ev.Outcome),
		Completed:   ev.Completed,
		Total:       ev.Total,
		Ratio:       ev.Ratio,
		Expired:     ev.Expired,
		EvaluatedAt: now,
	}

	report, err := h.Narrator.Narrate(ctx, obj, inc, ev)
	if err != nil {
		zap.L().Warn("narration failed",
			zap.String("objective_id", string(obj.ID)),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Report narration failed", err)
		return
	}
	resp.Narrative = report.Narrative
	resp.Model = report.Model

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// OBJECTIVE ENDPOINTS
// =============================================================================

// ListObjectives returns every objective.
func (h *Handler) ListObjectives(w http.ResponseWriter, r *http.Request) {
	objectives, err := h.Repo.ListObjectives(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]factory.ObjectiveJSON, 0, len(objectives))
	for _, o := range objectives {
		dtos = append(dtos, incentive.NewObjectiveDocument(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateObjective validates and stores an objective. A missing id is generated.
func (h *Handler) CreateObjective(w http.ResponseWriter, r *http.Request) {
	var req factory.ObjectiveJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	obj, err := h.Factory.ObjectiveFromJSON(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Repo.SaveObjective(r.Context(), obj); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, incentive.NewObjectiveDocument(obj))
}

// GetObjective returns one objective.
func (h *Handler) GetObjective(w http.ResponseWriter, r *http.Request) {
	obj, err := h.Repo.GetObjective(r.Context(), incentive.ObjectiveID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incentive.NewObjectiveDocument(obj))
}

// DeleteObjective removes an objective and its tasks.
func (h *Handler) DeleteObjective(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeleteObjective(r.Context(), incentive.ObjectiveID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListObjectiveTasks returns the tasks of an objective.
func (h *Handler) ListObjectiveTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := incentive.ObjectiveID(chi.URLParam(r, "id"))

	if _, err := h.Repo.GetObjective(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	tasks, err := h.Repo.ListTasksByObjective(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]factory.TaskJSON, 0, len(tasks))
	for _, t := range tasks {
		dtos = append(dtos, incentive.NewTaskDocument(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INCENTIVE ENDPOINTS
// =============================================================================

// ListIncentives returns every incentive. A stored incentive that cannot be
// interpreted is listed as stored, flagged with the reason, so it can be
// found and fixed.
func (h *Handler) ListIncentives(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Repo.ScanIncentives(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]IncentiveListItem, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			dtos = append(dtos, IncentiveListItem{IncentiveJSON: e.Document, Malformed: e.Err.Error()})
			continue
		}
		dtos = append(dtos, IncentiveListItem{IncentiveJSON: h.Factory.ToJSON(e.Incentive)})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateIncentive validates and stores an incentive. A missing id is generated.
func (h *Handler) CreateIncentive(w http.ResponseWriter, r *http.Request) {
	var req factory.IncentiveJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	inc, err := h.Factory.FromJSON(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Repo.SaveIncentive(r.Context(), inc); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(inc))
}

// GetIncentive returns one incentive.
func (h *Handler) GetIncentive(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Repo.GetIncentive(r.Context(), incentive.IncentiveID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToJSON(inc))
}

// DeleteIncentive removes an incentive. Objectives pointing at it evaluate
// to "Incentive not found" afterwards.
func (h *Handler) DeleteIncentive(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeleteIncentive(r.Context(), incentive.IncentiveID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TASK ENDPOINTS
// =============================================================================

// CreateTask stores a task under an existing objective.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req factory.TaskJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	task := req.Task()
	if err := task.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.Repo.GetObjective(ctx, task.ObjectiveID); err != nil {
		if incentive.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "Objective does not exist", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	if err := h.Repo.SaveTask(ctx, task); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, incentive.NewTaskDocument(task))
}

// GetTask returns one task.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Repo.GetTask(r.Context(), incentive.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incentive.NewTaskDocument(task))
}

// SetTaskCompleted marks a task done or not done.
func (h *Handler) SetTaskCompleted(w http.ResponseWriter, r *http.Request) {
	var req SetCompletedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Completed == nil {
		writeError(w, http.StatusBadRequest, "completed is required", nil)
		return
	}

	task, err := h.Repo.SetTaskCompleted(r.Context(), incentive.TaskID(chi.URLParam(r, "id")), *req.Completed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incentive.NewTaskDocument(task))
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeleteTask(r.Context(), incentive.TaskID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// ListSettlements returns every recorded settlement.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Repo.ListSettlements(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]incentive.SettlementDocument, 0, len(settlements))
	for _, s := range settlements {
		dtos = append(dtos, incentive.NewSettlementDocument(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlement returns the settlement of one objective.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.GetSettlement(r.Context(), incentive.ObjectiveID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incentive.NewSettlementDocument(s))
}

// RunSettlements settles every due objective now.
func (h *Handler) RunSettlements(w http.ResponseWriter, r *http.Request) {
	report, err := h.Settler.SettleDue(r.Context(), h.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveSettlement(report)
	}
	writeJSON(w, http.StatusOK, toSettleRunResponse(report))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(into)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError answers with message. Details are only echoed for client errors;
// server-side failures carry store paths and record ids, so they are logged
// instead.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		if status >= http.StatusInternalServerError {
			zap.L().Error(message, zap.Int("status", status), zap.Error(err))
		} else {
			resp.Details = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps incentive errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, incentive.ErrObjectiveNotFound):
		writeError(w, http.StatusNotFound, "Objective not found", nil)
	case errors.Is(err, incentive.ErrIncentiveNotFound):
		writeError(w, http.StatusNotFound, "Incentive not found", nil)
	case errors.Is(err, incentive.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found", nil)
	case errors.Is(err, incentive.ErrSettlementNotFound):
		writeError(w, http.StatusNotFound, "Settlement not found", nil)
	case incentive.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", nil)
	case incentive.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case incentive.IsConflict(err), incentive.IsRetryable(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, incentive.ErrMalformedIncentive):
		zap.L().Error("malformed incentive", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Malformed incentive data", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Request cancelled", err)
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
