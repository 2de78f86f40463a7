package incentive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// DOCUMENTS - Stored JSON shape of each record
// =============================================================================
//
// Field names follow the document database the engine was built against:
// camelCase, dates as YYYY-MM-DD, incentive values as strings.

// ObjectiveDocument is the stored form of an Objective.
type ObjectiveDocument struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	AssignedTo     string `json:"assignedTo,omitempty"`
	IsIncentivized bool   `json:"isIncentivized"`
	IncentiveID    string `json:"incentiveId,omitempty"`
	StartDate      Date   `json:"startDate"`
	EndDate        Date   `json:"endDate"`
}

func NewObjectiveDocument(o Objective) ObjectiveDocument {
	return ObjectiveDocument{
		ID:             string(o.ID),
		Title:          o.Title,
		Description:    o.Description,
		AssignedTo:     o.AssignedTo,
		IsIncentivized: o.IsIncentivized,
		IncentiveID:    string(o.IncentiveID),
		StartDate:      o.StartDate,
		EndDate:        o.EndDate,
	}
}

func (d ObjectiveDocument) Objective() Objective {
	return Objective{
		ID:             ObjectiveID(d.ID),
		Title:          d.Title,
		Description:    d.Description,
		AssignedTo:     d.AssignedTo,
		IsIncentivized: d.IsIncentivized,
		IncentiveID:    IncentiveID(d.IncentiveID),
		StartDate:      d.StartDate,
		EndDate:        d.EndDate,
	}
}

// ConditionDocument is the stored conditionExpression of an incentive.
type ConditionDocument struct {
	Modality string `json:"modality,omitempty"`
}

// IncentiveDocument is the stored form of an Incentive.
type IncentiveDocument struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Type                string             `json:"type"`
	Value               RawValue           `json:"value"`
	ConditionExpression *ConditionDocument `json:"conditionExpression,omitempty"`
}

func NewIncentiveDocument(i Incentive) IncentiveDocument {
	doc := IncentiveDocument{
		ID:    string(i.ID),
		Name:  i.Name,
		Type:  string(i.Type),
		Value: RawValue(i.Reward.Raw()),
	}
	if i.Condition.Modality != "" {
		doc.ConditionExpression = &ConditionDocument{Modality: string(i.Condition.Modality)}
	}
	return doc
}

// Incentive resolves the document into a typed Incentive. The value is parsed
// here, once; a monetary value that is not a number fails with
// MalformedValueError.
func (d IncentiveDocument) Incentive() (Incentive, error) {
	t, ok := ParseIncentiveType(d.Type)
	if !ok {
		return Incentive{}, fmt.Errorf("%w %s: unknown type %q", ErrMalformedIncentive, d.ID, d.Type)
	}

	var modality string
	if d.ConditionExpression != nil {
		modality = d.ConditionExpression.Modality
	}
	m, ok := ParseModality(modality)
	if !ok {
		return Incentive{}, fmt.Errorf("%w %s: unknown modality %q", ErrMalformedIncentive, d.ID, modality)
	}

	reward, err := NewReward(t, string(d.Value))
	if err != nil {
		var mv *MalformedValueError
		if errors.As(err, &mv) {
			mv.IncentiveID = IncentiveID(d.ID)
		}
		return Incentive{}, err
	}

	return Incentive{
		ID:        IncentiveID(d.ID),
		Name:      d.Name,
		Type:      t,
		Reward:    reward,
		Condition: Condition{Modality: m},
	}, nil
}

// RawValue is an incentive value as stored. Documents written by hand
// sometimes carry a JSON number instead of a string; both decode.
type RawValue string

func (v RawValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("incentive value must be a string or number: %w", err)
	}
	*v = RawValue(n.String())
	return nil
}

// TaskDocument is the stored form of a Task.
type TaskDocument struct {
	ID          string `json:"id"`
	ObjectiveID string `json:"objectiveId"`
	Title       string `json:"title"`
	AssignedTo  string `json:"assignedTo,omitempty"`
	Completed   bool   `json:"completed"`
}

func NewTaskDocument(t Task) TaskDocument {
	return TaskDocument{
		ID:          string(t.ID),
		ObjectiveID: string(t.ObjectiveID),
		Title:       t.Title,
		AssignedTo:  t.AssignedTo,
		Completed:   t.Completed,
	}
}

func (d TaskDocument) Task() Task {
	return Task{
		ID:          TaskID(d.ID),
		ObjectiveID: ObjectiveID(d.ObjectiveID),
		Title:       d.Title,
		AssignedTo:  d.AssignedTo,
		Completed:   d.Completed,
	}
}

// SettlementDocument is the stored form of a Settlement.
type SettlementDocument struct {
	ID          string    `json:"id"`
	ObjectiveID string    `json:"objectiveId"`
	IncentiveID string    `json:"incentiveId,omitempty"`
	Result      Payout    `json:"result"`
	Message     string    `json:"message"`
	Outcome     string    `json:"outcome"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	SettledAt   time.Time `json:"settledAt"`
}

func NewSettlementDocument(s Settlement) SettlementDocument {
	return SettlementDocument{
		ID:          s.ID,
		ObjectiveID: string(s.ObjectiveID),
		IncentiveID: string(s.IncentiveID),
		Result:      s.Result,
		Message:     s.Message,
		Outcome:     string(s.Outcome),
		Completed:   s.Completed,
		Total:       s.Total,
		SettledAt:   s.SettledAt.UTC(),
	}
}

func (d SettlementDocument) Settlement() Settlement {
	return Settlement{
		ID:          d.ID,
		ObjectiveID: ObjectiveID(d.ObjectiveID),
		IncentiveID: IncentiveID(d.IncentiveID),
		Result:      d.Result,
		Message:     d.Message,
		Outcome:     Outcome(d.Outcome),
		Completed:   d.Completed,
		Total:       d.Total,
		SettledAt:   d.SettledAt,
	}
}
