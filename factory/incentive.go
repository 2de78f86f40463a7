/*
Package factory provides JSON to Go conversion for incentive records.

PURPOSE:
  Converts JSON incentive, objective and task definitions submitted by
  administrators into typed incentive records. This is where an incentive's
  free-form value string is resolved into a Reward, once, so the evaluator
  never re-parses strings.

JSON SCHEMA (incentive):
  {
    "id": "q1-bonus",
    "name": "Q1 delivery bonus",
    "type": "monetary",              // monetary | days-off | training | other
    "value": "1000",                 // decimal for monetary, label otherwise
    "conditionExpression": {
      "modality": "proportional"     // proportional | all-or-nothing (default)
    }
  }

JSON SCHEMA (objective):
  {
    "id": "obj-1",
    "title": "Ship Q1 roadmap",
    "assignedTo": "all",
    "isIncentivized": true,
    "incentiveId": "q1-bonus",
    "startDate": "2025-01-01",
    "endDate": "2025-03-31"
  }

KEY FEATURES:
  - Validates JSON structure
  - Applies the explicit default modality
  - Rejects unknown types and modalities instead of guessing
  - Monetary values must be non-negative decimals

USAGE:
  f := factory.NewIncentiveFactory()

  // From JSON string
  inc, err := f.ParseIncentive(jsonString)

  // From a preset
  inc, err := f.ParseIncentive(rewards.MonetaryBonusJSON("q1-bonus", "Q1 bonus", "1000", "proportional"))

SEE ALSO:
  - incentive/document.go: Stored JSON shape (same field names)
  - rewards/presets.go: Preset JSON builders
*/
package factory

import (
	"encoding/json"
	"strings"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// IncentiveJSON is the JSON representation of an incentive.
type IncentiveJSON = incentive.IncentiveDocument

// ObjectiveJSON is the JSON representation of an objective.
type ObjectiveJSON = incentive.ObjectiveDocument

// TaskJSON is the JSON representation of a task.
type TaskJSON = incentive.TaskDocument

// =============================================================================
// INCENTIVE FACTORY
// =============================================================================

// IncentiveFactory converts JSON records to typed incentive records.
type IncentiveFactory struct{}

// NewIncentiveFactory creates a new incentive factory.
func NewIncentiveFactory() *IncentiveFactory {
	return &IncentiveFactory{}
}

// ParseIncentive parses a JSON string into an Incentive.
func (f *IncentiveFactory) ParseIncentive(jsonStr string) (incentive.Incentive, error) {
	var ij IncentiveJSON
	if err := json.Unmarshal([]byte(jsonStr), &ij); err != nil {
		return incentive.Incentive{}, incentive.InvalidIncentive("body", "is not valid JSON: "+err.Error())
	}
	return f.FromJSON(ij)
}

// FromJSON validates ij and resolves its value into a Reward.
func (f *IncentiveFactory) FromJSON(ij IncentiveJSON) (incentive.Incentive, error) {
	if strings.TrimSpace(ij.ID) == "" {
		return incentive.Incentive{}, incentive.InvalidIncentive("id", "is required")
	}
	if strings.TrimSpace(ij.Name) == "" {
		return incentive.Incentive{}, incentive.InvalidIncentive("name", "is required")
	}

	t, ok := incentive.ParseIncentiveType(ij.Type)
	if !ok {
		return incentive.Incentive{}, incentive.InvalidIncentive("type",
			"must be one of monetary, days-off, training, other")
	}

	var modality string
	if ij.ConditionExpression != nil {
		modality = ij.ConditionExpression.Modality
	}
	m, ok := incentive.ParseModality(modality)
	if !ok {
		return incentive.Incentive{}, incentive.InvalidIncentive("conditionExpression.modality",
			"must be proportional or all-or-nothing")
	}

	value := strings.TrimSpace(string(ij.Value))
	if value == "" {
		return incentive.Incentive{}, incentive.InvalidIncentive("value", "is required")
	}
	reward, err := incentive.NewReward(t, value)
	if err != nil {
		return incentive.Incentive{}, incentive.InvalidIncentive("value", "must be a decimal amount for monetary incentives")
	}
	if reward.IsMonetary() && reward.Amount.IsNegative() {
		return incentive.Incentive{}, incentive.InvalidIncentive("value", "must not be negative")
	}

	return incentive.Incentive{
		ID:        incentive.IncentiveID(ij.ID),
		Name:      ij.Name,
		Type:      t,
		Reward:    reward,
		Condition: incentive.Condition{Modality: m},
	}, nil
}

// ToJSON converts an Incentive back to its JSON representation.
func (f *IncentiveFactory) ToJSON(inc incentive.Incentive) IncentiveJSON {
	return incentive.NewIncentiveDocument(inc)
}

// ParseObjective parses and validates an objective.
func (f *IncentiveFactory) ParseObjective(jsonStr string) (incentive.Objective, error) {
	var oj ObjectiveJSON
	if err := json.Unmarshal([]byte(jsonStr), &oj); err != nil {
		return incentive.Objective{}, incentive.InvalidObjective("body", "is not valid JSON: "+err.Error())
	}
	return f.ObjectiveFromJSON(oj)
}

// ObjectiveFromJSON validates an already decoded objective.
func (f *IncentiveFactory) ObjectiveFromJSON(oj ObjectiveJSON) (incentive.Objective, error) {
	obj := oj.Objective()
	if obj.AssignedTo == "" {
		obj.AssignedTo = incentive.AssigneeWholeCompany
	}
	if err := obj.Validate(); err != nil {
		return incentive.Objective{}, err
	}
	return obj, nil
}

// ParseTask parses and validates a task.
func (f *IncentiveFactory) ParseTask(jsonStr string) (incentive.Task, error) {
	var tj TaskJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return incentive.Task{}, incentive.InvalidTask("body", "is not valid JSON: "+err.Error())
	}
	task := tj.Task()
	if err := task.Validate(); err != nil {
		return incentive.Task{}, err
	}
	return task, nil
}
