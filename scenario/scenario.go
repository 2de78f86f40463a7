/*
Package scenario loads incentive data sets from YAML.

PURPOSE:
  A scenario is a small, self-contained set of incentives, objectives and
  tasks, plus the instant to evaluate at and the answers expected. Scenarios
  seed demo stores and double as executable acceptance tests.

FILE FORMAT:
  id: proportional-half
  name: Proportional, half done
  now: 2025-03-10                  # YYYY-MM-DD or RFC3339
  incentives:
    - id: s5-bonus
      name: Sales enablement bonus
      type: monetary
      value: "1000"
      conditionExpression: {modality: proportional}
  objectives:
    - id: s5-obj
      title: Sales enablement
      isIncentivized: true
      incentiveId: s5-bonus
      startDate: 2025-01-01
      endDate: 2025-03-31
  tasks:
    - {id: s5-t1, objectiveId: s5-obj, completed: true}
  expect:
    - {objectiveId: s5-obj, result: "500", message: Proportional (50%)}
    # non-monetary rewards pay their label: add kind: label

  Field names match the stored JSON documents.

SEE ALSO:
  - builtin/: The bundled scenarios
  - factory/incentive.go: Validation applied to every record
*/
package scenario

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// FILE SCHEMA
// =============================================================================

// Scenario is one parsed scenario file.
type Scenario struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Now         string        `yaml:"now" json:"now"`
	Incentives  []Incentive   `yaml:"incentives" json:"-"`
	Objectives  []Objective   `yaml:"objectives" json:"-"`
	Tasks       []Task        `yaml:"tasks" json:"-"`
	Expect      []Expectation `yaml:"expect" json:"-"`
}

type Incentive struct {
	ID                  string     `yaml:"id"`
	Name                string     `yaml:"name"`
	Type                string     `yaml:"type"`
	Value               string     `yaml:"value"`
	ConditionExpression *Condition `yaml:"conditionExpression"`
}

type Condition struct {
	Modality string `yaml:"modality"`
}

type Objective struct {
	ID             string `yaml:"id"`
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	AssignedTo     string `yaml:"assignedTo"`
	IsIncentivized bool   `yaml:"isIncentivized"`
	IncentiveID    string `yaml:"incentiveId"`
	StartDate      string `yaml:"startDate"`
	EndDate        string `yaml:"endDate"`
}

type Task struct {
	ID          string `yaml:"id"`
	ObjectiveID string `yaml:"objectiveId"`
	Title       string `yaml:"title"`
	AssignedTo  string `yaml:"assignedTo"`
	Completed   bool   `yaml:"completed"`
}

// Expectation is the answer an objective should produce at Now.
type Expectation struct {
	ObjectiveID string `yaml:"objectiveId"`
	Result      string `yaml:"result"`
	Kind        string `yaml:"kind"` // amount (default) or label
	Message     string `yaml:"message"`
}

// Expectation kinds.
const (
	KindAmount = "amount"
	KindLabel  = "label"
)

// Payout is the expected result. A label "2" and the amount 2 are different
// payouts.
func (e Expectation) Payout() (incentive.Payout, error) {
	switch e.Kind {
	case "", KindAmount:
		d, err := decimal.NewFromString(e.Result)
		if err != nil {
			return incentive.Payout{}, eris.Wrapf(err, "expected amount %q for %s", e.Result, e.ObjectiveID)
		}
		return incentive.AmountPayout(d), nil
	case KindLabel:
		return incentive.LabelPayout(e.Result), nil
	default:
		return incentive.Payout{}, eris.Errorf("unknown expectation kind %q for %s", e.Kind, e.ObjectiveID)
	}
}

// Records is a scenario converted to validated domain records.
type Records struct {
	Incentives []incentive.Incentive
	Objectives []incentive.Objective
	Tasks      []incentive.Task
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a scenario from YAML. Unknown fields are rejected so typos
// do not silently drop data.
func Parse(data []byte) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Scenario{}, eris.Wrap(err, "scenario: decode yaml")
	}
	if s.ID == "" {
		return Scenario{}, eris.New("scenario: id is required")
	}
	return s, nil
}

// ReadFile parses the scenario stored at path.
func ReadFile(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, eris.Wrapf(err, "scenario: read %s", path)
	}
	return Parse(data)
}

// At returns the evaluation instant. An empty Now means now.
func (s Scenario) At() (time.Time, error) {
	if s.Now == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s.Now); err == nil {
		return t, nil
	}
	d, err := incentive.ParseDate(s.Now)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "scenario %s: now", s.ID)
	}
	return d.Time, nil
}

// Records validates every record through the factory.
func (s Scenario) Records() (Records, error) {
	f := factory.NewIncentiveFactory()
	var out Records

	for _, in := range s.Incentives {
		doc := factory.IncentiveJSON{
			ID:    in.ID,
			Name:  in.Name,
			Type:  in.Type,
			Value: incentive.RawValue(in.Value),
		}
		if in.ConditionExpression != nil {
			doc.ConditionExpression = &incentive.ConditionDocument{Modality: in.ConditionExpression.Modality}
		}
		inc, err := f.FromJSON(doc)
		if err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s: incentive %s", s.ID, in.ID)
		}
		out.Incentives = append(out.Incentives, inc)
	}

	for _, o := range s.Objectives {
		start, err := incentive.ParseDate(o.StartDate)
		if err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s: objective %s startDate", s.ID, o.ID)
		}
		end, err := incentive.ParseDate(o.EndDate)
		if err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s: objective %s endDate", s.ID, o.ID)
		}
		obj, err := f.ObjectiveFromJSON(factory.ObjectiveJSON{
			ID:             o.ID,
			Title:          o.Title,
			Description:    o.Description,
			AssignedTo:     o.AssignedTo,
			IsIncentivized: o.IsIncentivized,
			IncentiveID:    o.IncentiveID,
			StartDate:      start,
			EndDate:        end,
		})
		if err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s: objective %s", s.ID, o.ID)
		}
		out.Objectives = append(out.Objectives, obj)
	}

	for _, t := range s.Tasks {
		task := factory.TaskJSON{
			ID:          t.ID,
			ObjectiveID: t.ObjectiveID,
			Title:       t.Title,
			AssignedTo:  t.AssignedTo,
			Completed:   t.Completed,
		}.Task()
		if err := task.Validate(); err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s: task %s", s.ID, t.ID)
		}
		out.Tasks = append(out.Tasks, task)
	}

	return out, nil
}

// =============================================================================
// LOADING AND VERIFYING
// =============================================================================

// Load validates s and writes its records to repo. Existing records with the
// same ids are overwritten.
func Load(ctx context.Context, repo *incentive.Repository, s Scenario) (Records, error) {
	recs, err := s.Records()
	if err != nil {
		return Records{}, err
	}
	for _, inc := range recs.Incentives {
		if err := repo.SaveIncentive(ctx, inc); err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s", s.ID)
		}
	}
	for _, obj := range recs.Objectives {
		if err := repo.SaveObjective(ctx, obj); err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s", s.ID)
		}
	}
	for _, t := range recs.Tasks {
		if err := repo.SaveTask(ctx, t); err != nil {
			return Records{}, eris.Wrapf(err, "scenario %s", s.ID)
		}
	}

	zap.L().Info("scenario loaded",
		zap.String("scenario", s.ID),
		zap.Int("incentives", len(recs.Incentives)),
		zap.Int("objectives", len(recs.Objectives)),
		zap.Int("tasks", len(recs.Tasks)))
	return recs, nil
}

// Check is the outcome of one expectation.
type Check struct {
	ObjectiveID incentive.ObjectiveID `json:"objectiveId"`
	WantResult  string                `json:"wantResult"`
	WantKind    string                `json:"wantKind"`
	WantMessage string                `json:"wantMessage"`
	Result      incentive.Payout      `json:"result"`
	Message     string                `json:"message"`
	OK          bool                  `json:"ok"`
}

// Verify evaluates every expectation of s at s.At().
func Verify(ctx context.Context, ev *incentive.Evaluator, s Scenario) ([]Check, error) {
	now, err := s.At()
	if err != nil {
		return nil, err
	}

	checks := make([]Check, 0, len(s.Expect))
	for _, want := range s.Expect {
		wantPayout, err := want.Payout()
		if err != nil {
			return nil, eris.Wrapf(err, "scenario %s", s.ID)
		}
		_, got, err := ev.EvaluateByID(ctx, incentive.ObjectiveID(want.ObjectiveID), now)
		if err != nil {
			return nil, eris.Wrapf(err, "scenario %s: evaluate %s", s.ID, want.ObjectiveID)
		}
		kind := KindAmount
		if wantPayout.IsLabel() {
			kind = KindLabel
		}
		checks = append(checks, Check{
			ObjectiveID: incentive.ObjectiveID(want.ObjectiveID),
			WantResult:  want.Result,
			WantKind:    kind,
			WantMessage: want.Message,
			Result:      got.Result,
			Message:     got.Message,
			OK:          got.Result.Equal(wantPayout) && got.Message == want.Message,
		})
	}
	return checks, nil
}
