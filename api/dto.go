/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Records travel in their
  stored document shape (factory JSON types) so what an admin POSTs is what
  the store holds; everything else gets a DTO here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Evaluation:
    EvaluationResponse, ReportResponse

  Incentives:
    IncentiveListItem

  Tasks:
    SetCompletedRequest

  Settlements:
    SettleRunResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Validation is done by the factory, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/incentive.go: IncentiveJSON, ObjectiveJSON, TaskJSON
*/
package api

import (
	"time"

	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/scenario"
)

// =============================================================================
// EVALUATION
// =============================================================================

// EvaluationResponse is the body of GET /api/objectives/{id}/evaluation.
type EvaluationResponse struct {
	Result  incentive.Payout `json:"result"`
	Message string           `json:"message"`
}

// ReportResponse is an evaluation with its explanation.
type ReportResponse struct {
	ObjectiveID string           `json:"objectiveId"`
	Result      incentive.Payout `json:"result"`
	Message     string           `json:"message"`
	Outcome     string           `json:"outcome"`
	Completed   int              `json:"completed"`
	Total       int              `json:"total"`
	Ratio       float64          `json:"ratio"`
	Expired     bool             `json:"expired"`
	EvaluatedAt time.Time        `json:"evaluatedAt"`
	Narrative   string           `json:"narrative"`
	Model       string           `json:"model,omitempty"`
}

// =============================================================================
// INCENTIVES
// =============================================================================

// IncentiveListItem is one entry of GET /api/incentives. Malformed is set
// when the stored document cannot be interpreted.
type IncentiveListItem struct {
	factory.IncentiveJSON
	Malformed string `json:"malformed,omitempty"`
}

// =============================================================================
// TASKS
// =============================================================================

// SetCompletedRequest is the body of PUT /api/tasks/{id}/completed.
type SetCompletedRequest struct {
	Completed *bool `json:"completed"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// SettleRunResponse summarizes POST /api/settlements/run.
type SettleRunResponse struct {
	Settled []incentive.SettlementDocument `json:"settled"`
	Skipped int                            `json:"skipped"`
	Failed  map[string]string              `json:"failed,omitempty"`
}

func toSettleRunResponse(report incentive.SettleReport) SettleRunResponse {
	resp := SettleRunResponse{
		Settled: make([]incentive.SettlementDocument, 0, len(report.Settled)),
		Skipped: report.Skipped,
	}
	for _, s := range report.Settled {
		resp.Settled = append(resp.Settled, incentive.NewSettlementDocument(s))
	}
	if len(report.Failed) > 0 {
		resp.Failed = make(map[string]string, len(report.Failed))
		for id, err := range report.Failed {
			resp.Failed[string(id)] = err.Error()
		}
	}
	return resp
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a bundled scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Now         string `json:"now"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what was loaded and whether the expected
// answers hold.
type LoadScenarioResponse struct {
	Scenario   ScenarioDTO      `json:"scenario"`
	Incentives int              `json:"incentives"`
	Objectives int              `json:"objectives"`
	Tasks      int              `json:"tasks"`
	Checks     []scenario.Check `json:"checks"`
}

// =============================================================================
// COMMON
// =============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
