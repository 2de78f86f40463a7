package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.mustDo(t, "GET", "/api/scenarios", "", http.StatusOK)

	var scenarios []ScenarioDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scenarios))
	require.Len(t, scenarios, 7)
	assert.Equal(t, "not-incentivized", scenarios[0].ID)
	assert.Equal(t, "days-off-complete", scenarios[6].ID)
}

func TestLoadScenario(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Loading the proportional scenario
	// THEN: Its records exist and its expectation holds

	ts := newTestServer(t)

	rec := ts.mustDo(t, "POST", "/api/scenarios/load", `{"scenario_id": "proportional-half"}`, http.StatusOK)

	var resp LoadScenarioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Incentives)
	assert.Equal(t, 1, resp.Objectives)
	assert.Equal(t, 4, resp.Tasks)
	require.Len(t, resp.Checks, 1)
	assert.True(t, resp.Checks[0].OK)

	rec = ts.mustDo(t, "GET", "/api/scenarios/current", "", http.StatusOK)
	assert.JSONEq(t, `{"scenario_id": "proportional-half"}`, rec.Body.String())

	// The server clock (fixedNow) is also before the deadline.
	rec = ts.mustDo(t, "GET", "/api/objectives/s5-obj/evaluation", "", http.StatusOK)
	assert.JSONEq(t, `{"result": 500, "message": "Proportional (50%)"}`, rec.Body.String())
}

func TestLoadScenario_Unknown_404(t *testing.T) {
	ts := newTestServer(t)

	ts.mustDo(t, "POST", "/api/scenarios/load", `{"scenario_id": "nope"}`, http.StatusNotFound)
	ts.mustDo(t, "POST", "/api/scenarios/load", `{`, http.StatusBadRequest)
}
