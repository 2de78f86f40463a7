/*
scenarios.go - Bundled scenario loaders for testing and demonstrations

PURPOSE:
  Loads the scenarios bundled with the scenario package into the running
  store and reports whether their expected answers hold.

AVAILABLE SCENARIOS:
  not-incentivized:        No incentive, nothing owed
  incentive-missing:       Dangling incentive reference
  all-or-nothing-complete: 3/3 tasks, full bonus
  all-or-nothing-partial:  2/3 tasks, nothing
  proportional-half:       2/4 tasks, half the bonus
  proportional-expired:    2/4 tasks after the deadline, nothing
  days-off-complete:       4/4 tasks, the days-off label

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "proportional-half"}

NOTE:
  Loading overwrites records with the same ids and evaluates at the
  scenario's own instant, not the server clock.

SEE ALSO:
  - scenario/builtin/: Scenario files
  - handlers.go: Evaluation endpoints
*/
package api

import (
	"net/http"

	"github.com/warp/incentive-engine/scenario"
)

// ListScenarios returns the bundled scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := scenario.Builtins()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read scenarios", err)
		return
	}

	dtos := make([]ScenarioDTO, 0, len(all))
	for _, s := range all {
		dtos = append(dtos, toScenarioDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the id of the last scenario loaded.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario loads a bundled scenario and verifies it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := scenario.Builtin(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	ctx := r.Context()
	recs, err := scenario.Load(ctx, h.Repo, s)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	checks, err := scenario.Verify(ctx, h.Evaluator, s)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Scenario:   toScenarioDTO(s),
		Incentives: len(recs.Incentives),
		Objectives: len(recs.Objectives),
		Tasks:      len(recs.Tasks),
		Checks:     checks,
	})
}

func toScenarioDTO(s scenario.Scenario) ScenarioDTO {
	return ScenarioDTO{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Now:         s.Now,
	}
}
