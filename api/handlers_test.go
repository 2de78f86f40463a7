/*
handlers_test.go - Unit tests for API handlers

Tests for:
- The evaluation endpoint contract ({result, message}, 404, 500)
- Record CRUD and validation statuses
- Task completion toggles feeding evaluation
- Settlement runs, reports and metrics
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/incentive/store"
	"github.com/warp/incentive-engine/narrator"
	"github.com/warp/incentive-engine/rewards"
)

var fixedNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	h   *Handler
	srv http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := incentive.NewRepository(store.NewMemory())
	h := NewHandler(repo, NewMetrics())
	h.Now = func() time.Time { return fixedNow }
	return &testServer{h: h, srv: NewRouter(h, RouterOptions{})}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) mustDo(t *testing.T, method, path, body string, want int) *httptest.ResponseRecorder {
	t.Helper()
	rec := ts.do(t, method, path, body)
	require.Equal(t, want, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const objectiveJSON = `{
	"id": "obj-1",
	"title": "Sales enablement",
	"assignedTo": "sales",
	"isIncentivized": true,
	"incentiveId": "inc-1",
	"startDate": "2025-01-01",
	"endDate": "2025-03-31"
}`

// seedProportional creates a 1000 proportional bonus, obj-1 and four tasks,
// two of them completed.
func (ts *testServer) seedProportional(t *testing.T) {
	t.Helper()
	ts.mustDo(t, "POST", "/api/incentives", rewards.MonetaryBonusJSON("inc-1", "Bonus", "1000", rewards.Proportional), http.StatusCreated)
	ts.mustDo(t, "POST", "/api/objectives", objectiveJSON, http.StatusCreated)
	for i, done := range []bool{true, true, false, false} {
		body, _ := json.Marshal(map[string]any{
			"id":          "t" + string(rune('1'+i)),
			"objectiveId": "obj-1",
			"title":       "task",
			"completed":   done,
		})
		ts.mustDo(t, "POST", "/api/tasks", string(body), http.StatusCreated)
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

func TestGetEvaluation_Proportional(t *testing.T) {
	// GIVEN: 2 of 4 tasks done on a proportional 1000 bonus
	// WHEN: Requesting the evaluation before the deadline
	// THEN: Half the bonus with a percentage message

	ts := newTestServer(t)
	ts.seedProportional(t)

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)

	assert.JSONEq(t, `{"result": 500, "message": "Proportional (50%)"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestGetEvaluation_DaysOffLabel(t *testing.T) {
	ts := newTestServer(t)
	ts.mustDo(t, "POST", "/api/incentives", rewards.DaysOffJSON("inc-1", "Days off", 2), http.StatusCreated)
	ts.mustDo(t, "POST", "/api/objectives", objectiveJSON, http.StatusCreated)
	ts.mustDo(t, "POST", "/api/tasks", `{"id":"t1","objectiveId":"obj-1","title":"x","completed":true}`, http.StatusCreated)

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)

	assert.JSONEq(t, `{"result": "2", "message": "Full incentive"}`, rec.Body.String())
}

func TestGetEvaluation_UnknownObjective_404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.mustDo(t, "GET", "/api/objectives/nope/evaluation", "", http.StatusNotFound)

	assert.Equal(t, "Objective not found", decodeBody(t, rec)["error"])
}

func TestGetEvaluation_MissingIncentive_IsNormalResult(t *testing.T) {
	ts := newTestServer(t)
	ts.mustDo(t, "POST", "/api/objectives", objectiveJSON, http.StatusCreated)

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)

	assert.JSONEq(t, `{"result": 0, "message": "Incentive not found"}`, rec.Body.String())
}

func TestGetEvaluation_MalformedIncentive_500(t *testing.T) {
	// GIVEN: A stored monetary incentive whose value is not a number
	// WHEN: Evaluating an objective that uses it
	// THEN: 500 with a generic description, never a guessed number,
	//       and the cause only in the log

	core, logs := observer.New(zap.ErrorLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	ts := newTestServer(t)
	err := ts.h.Repo.Store().Set(context.Background(), incentive.CollectionIncentives, "inc-1",
		[]byte(`{"id":"inc-1","name":"Bonus","type":"monetary","value":"lots"}`))
	require.NoError(t, err)
	ts.mustDo(t, "POST", "/api/objectives", objectiveJSON, http.StatusCreated)
	ts.mustDo(t, "POST", "/api/tasks", `{"id":"t1","objectiveId":"obj-1","title":"x","completed":true}`, http.StatusCreated)

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusInternalServerError)

	body := decodeBody(t, rec)
	assert.Equal(t, "Malformed incentive data", body["error"])
	assert.NotContains(t, body, "details")
	assert.NotContains(t, rec.Body.String(), "inc-1")
	assert.NotContains(t, rec.Body.String(), "lots")

	logged := logs.FilterMessage("Malformed incentive data").All()
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0].ContextMap()["error"], "lots")
}

func TestWriteError_ClientErrorsKeepDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	writeError(rec, http.StatusBadRequest, "Validation failed", incentive.InvalidTask("objectiveId", "required"))

	body := decodeBody(t, rec)
	assert.Equal(t, "Validation failed", body["error"])
	assert.Contains(t, body["details"], "objectiveId")
}

func TestGetEvaluation_ExpiredAfterDeadline(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)
	ts.h.Now = func() time.Time { return time.Date(2025, time.April, 1, 0, 0, 1, 0, time.UTC) }

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)

	assert.JSONEq(t, `{"result": 0, "message": "Deadline expired, not met"}`, rec.Body.String())
}

// =============================================================================
// RECORDS
// =============================================================================

func TestCreateIncentive_Invalid_400(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown type", `{"id":"i","name":"x","type":"stock","value":"1"}`},
		{"bad amount", `{"id":"i","name":"x","type":"monetary","value":"lots"}`},
		{"unknown modality", `{"id":"i","name":"x","type":"monetary","value":"1","conditionExpression":{"modality":"tiered"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.mustDo(t, "POST", "/api/incentives", tt.body, http.StatusBadRequest)
		})
	}
}

func TestCreateObjective_GeneratesID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.mustDo(t, "POST", "/api/objectives",
		`{"title":"No id","startDate":"2025-01-01","endDate":"2025-02-01"}`, http.StatusCreated)

	body := decodeBody(t, rec)
	id, _ := body["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, incentive.AssigneeWholeCompany, body["assignedTo"])

	ts.mustDo(t, "GET", "/api/objectives/"+id, "", http.StatusOK)
}

func TestCreateObjective_EndBeforeStart_400(t *testing.T) {
	ts := newTestServer(t)

	ts.mustDo(t, "POST", "/api/objectives",
		`{"id":"o","startDate":"2025-03-01","endDate":"2025-01-01"}`, http.StatusBadRequest)
}

func TestCreateTask_UnknownObjective_400(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.mustDo(t, "POST", "/api/tasks", `{"id":"t1","objectiveId":"ghost","title":"x"}`, http.StatusBadRequest)

	assert.Equal(t, "Objective does not exist", decodeBody(t, rec)["error"])
}

func TestListEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)

	var objectives []map[string]any
	require.NoError(t, json.Unmarshal(ts.mustDo(t, "GET", "/api/objectives", "", http.StatusOK).Body.Bytes(), &objectives))
	assert.Len(t, objectives, 1)

	var incentives []map[string]any
	require.NoError(t, json.Unmarshal(ts.mustDo(t, "GET", "/api/incentives", "", http.StatusOK).Body.Bytes(), &incentives))
	require.Len(t, incentives, 1)
	assert.Equal(t, "1000", incentives[0]["value"])

	var tasks []map[string]any
	require.NoError(t, json.Unmarshal(ts.mustDo(t, "GET", "/api/objectives/obj-1/tasks", "", http.StatusOK).Body.Bytes(), &tasks))
	assert.Len(t, tasks, 4)

	ts.mustDo(t, "GET", "/api/objectives/ghost/tasks", "", http.StatusNotFound)
	ts.mustDo(t, "GET", "/api/incentives/inc-1", "", http.StatusOK)
	ts.mustDo(t, "GET", "/api/tasks/t1", "", http.StatusOK)
}

func TestSetTaskCompleted_ChangesEvaluation(t *testing.T) {
	// GIVEN: 2 of 4 tasks done
	// WHEN: The remaining two are completed
	// THEN: The full bonus is due

	ts := newTestServer(t)
	ts.seedProportional(t)

	rec := ts.mustDo(t, "PUT", "/api/tasks/t3/completed", `{"completed": true}`, http.StatusOK)
	assert.Equal(t, true, decodeBody(t, rec)["completed"])
	ts.mustDo(t, "PUT", "/api/tasks/t4/completed", `{"completed": true}`, http.StatusOK)

	rec = ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)
	assert.JSONEq(t, `{"result": 1000, "message": "Proportional (100%)"}`, rec.Body.String())
}

func TestSetTaskCompleted_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)

	ts.mustDo(t, "PUT", "/api/tasks/t1/completed", `{}`, http.StatusBadRequest)
	ts.mustDo(t, "PUT", "/api/tasks/ghost/completed", `{"completed": true}`, http.StatusNotFound)
}

func TestDeleteEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)

	ts.mustDo(t, "DELETE", "/api/tasks/t1", "", http.StatusNoContent)
	ts.mustDo(t, "DELETE", "/api/tasks/t1", "", http.StatusNotFound)

	ts.mustDo(t, "DELETE", "/api/incentives/inc-1", "", http.StatusNoContent)
	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)
	assert.Equal(t, incentive.MsgIncentiveMissing, decodeBody(t, rec)["message"])

	ts.mustDo(t, "DELETE", "/api/objectives/obj-1", "", http.StatusNoContent)
	ts.mustDo(t, "GET", "/api/objectives/obj-1", "", http.StatusNotFound)
	ts.mustDo(t, "GET", "/api/tasks/t2", "", http.StatusNotFound)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestRunSettlements_OnlyOnce(t *testing.T) {
	// GIVEN: An objective that ended with 2/4 tasks done
	// WHEN: Settlements run twice
	// THEN: One settlement with the expired result; the second run skips it

	ts := newTestServer(t)
	ts.seedProportional(t)
	ts.h.Now = func() time.Time { return time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC) }

	rec := ts.mustDo(t, "POST", "/api/settlements/run", "", http.StatusOK)
	var first SettleRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Len(t, first.Settled, 1)
	assert.Equal(t, incentive.MsgExpired, first.Settled[0].Message)

	// Completing tasks afterwards does not change the settlement.
	ts.mustDo(t, "PUT", "/api/tasks/t3/completed", `{"completed": true}`, http.StatusOK)

	rec = ts.mustDo(t, "POST", "/api/settlements/run", "", http.StatusOK)
	var second SettleRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Empty(t, second.Settled)
	assert.Equal(t, 1, second.Skipped)

	rec = ts.mustDo(t, "GET", "/api/settlements/obj-1", "", http.StatusOK)
	assert.Equal(t, incentive.MsgExpired, decodeBody(t, rec)["message"])

	var all []map[string]any
	require.NoError(t, json.Unmarshal(ts.mustDo(t, "GET", "/api/settlements", "", http.StatusOK).Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestGetSettlement_NotFound(t *testing.T) {
	ts := newTestServer(t)

	ts.mustDo(t, "GET", "/api/settlements/obj-1", "", http.StatusNotFound)
}

// =============================================================================
// REPORT
// =============================================================================

type fakeNarrator struct {
	err error
}

func (f fakeNarrator) Narrate(_ context.Context, obj incentive.Objective, inc *incentive.Incentive, ev incentive.Evaluation) (narrator.Report, error) {
	if f.err != nil {
		return narrator.Report{}, f.err
	}
	return narrator.Report{
		ObjectiveID: obj.ID,
		Result:      ev.Result,
		Message:     ev.Message,
		Narrative:   "Sales is halfway there with " + inc.Name + ".",
		Model:       "fake",
	}, nil
}

func TestGetReport_NotConfigured_503(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)

	ts.mustDo(t, "GET", "/api/objectives/obj-1/report", "", http.StatusServiceUnavailable)
}

func TestGetReport(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)
	ts.h.Narrator = fakeNarrator{}

	rec := ts.mustDo(t, "GET", "/api/objectives/obj-1/report", "", http.StatusOK)

	var report ReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "500", report.Result.String())
	assert.Equal(t, "Proportional (50%)", report.Message)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, "Sales is halfway there with Bonus.", report.Narrative)
	assert.Equal(t, "fake", report.Model)
}

func TestGetReport_NarratorFails_503(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)
	ts.h.Narrator = fakeNarrator{err: errors.New("overloaded")}

	ts.mustDo(t, "GET", "/api/objectives/obj-1/report", "", http.StatusServiceUnavailable)
	ts.mustDo(t, "GET", "/api/objectives/ghost/report", "", http.StatusNotFound)
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.mustDo(t, "GET", "/health", "", http.StatusOK)

	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics_CountsEvaluations(t *testing.T) {
	ts := newTestServer(t)
	ts.seedProportional(t)

	ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)
	ts.mustDo(t, "GET", "/api/objectives/obj-1/evaluation", "", http.StatusOK)

	rec := ts.mustDo(t, "GET", "/metrics", "", http.StatusOK)
	body := rec.Body.String()
	assert.Contains(t, body, `incentive_evaluations_total{outcome="proportional"} 2`)
	assert.Contains(t, body, `incentive_evaluations_total{outcome="expired"} 0`)
	assert.Contains(t, body, "incentive_evaluation_duration_seconds_count 2")
}

func TestListIncentives_FlagsMalformed(t *testing.T) {
	// GIVEN: A valid incentive and a stored one with a non-numeric amount
	// WHEN: Listing incentives
	// THEN: 200 with both, the broken one flagged instead of failing the list

	ts := newTestServer(t)
	ts.seedProportional(t)
	err := ts.h.Repo.Store().Set(context.Background(), incentive.CollectionIncentives, "inc-0",
		[]byte(`{"id":"inc-0","name":"Broken","type":"monetary","value":"lots"}`))
	require.NoError(t, err)

	rec := ts.mustDo(t, "GET", "/api/incentives", "", http.StatusOK)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "inc-0", items[0]["id"])
	assert.Equal(t, "lots", items[0]["value"])
	assert.Contains(t, items[0]["malformed"], "lots")
	assert.Equal(t, "inc-1", items[1]["id"])
	assert.NotContains(t, items[1], "malformed")
}
