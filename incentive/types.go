/*
Package incentive provides the incentive-evaluation engine.

PURPOSE:
  Given an objective, its tasks and the incentive attached to it, decide what
  (if anything) an employee is owed. Everything around it (CRUD, auth, report
  prose) is plumbing; the decision logic lives in evaluator.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Objective: a goal with a date window, optionally linked to an Incentive
  - Incentive: a reward definition with a payout modality
  - Reward: tagged union, a monetary amount or an indivisible unit label
  - Task: atomic unit of work, counts equally toward the completion ratio
  - Payout: the value an evaluation produces (number or label)

DESIGN PRINCIPLES:
  1. Parse once: an incentive's raw value string becomes a Reward at the
     document boundary, never inside the evaluator
  2. Precision: monetary amounts use decimal.Decimal
  3. Type Safety: distinct ID types for objectives, incentives and tasks
  4. Explicit defaults: a missing modality is DefaultModality, not a nil check

SEE ALSO:
  - evaluator.go: The evaluation algorithm
  - document.go: Persisted JSON shape
  - factory/incentive.go: API-side parsing and presets
*/
package incentive

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ObjectiveID string
type IncentiveID string
type TaskID string

// AssigneeWholeCompany is the assignedTo sentinel for company-wide objectives.
const AssigneeWholeCompany = "all"

// =============================================================================
// OBJECTIVE
// =============================================================================

// Objective is a goal with a date window. AssignedTo is carried for callers;
// the evaluator never looks at it.
type Objective struct {
	ID             ObjectiveID
	Title          string
	Description    string
	AssignedTo     string
	IsIncentivized bool
	IncentiveID    IncentiveID // empty when no incentive is linked
	StartDate      Date
	EndDate        Date
}

// HasIncentive reports whether the objective is eligible for evaluation.
func (o Objective) HasIncentive() bool {
	return o.IsIncentivized && o.IncentiveID != ""
}

// Validate checks the structural invariants of an objective.
func (o Objective) Validate() error {
	if o.ID == "" {
		return InvalidObjective("id", "is required")
	}
	if o.StartDate.IsZero() || o.EndDate.IsZero() {
		return InvalidObjective("startDate/endDate", "are required")
	}
	if o.EndDate.Before(o.StartDate) {
		return InvalidObjective("endDate", "is before startDate")
	}
	if o.IsIncentivized && o.IncentiveID == "" {
		return InvalidObjective("incentiveId", "is required when isIncentivized is true")
	}
	return nil
}

// =============================================================================
// INCENTIVE
// =============================================================================

// IncentiveType classifies the reward. Only monetary rewards are divisible.
type IncentiveType string

const (
	TypeMonetary IncentiveType = "monetary"
	TypeDaysOff  IncentiveType = "days-off"
	TypeTraining IncentiveType = "training"
	TypeOther    IncentiveType = "other"
)

// ParseIncentiveType accepts the known types, case-insensitively.
func ParseIncentiveType(s string) (IncentiveType, bool) {
	switch t := IncentiveType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeMonetary, TypeDaysOff, TypeTraining, TypeOther:
		return t, true
	}
	return "", false
}

// Modality is the policy for converting a completion ratio into a payout.
type Modality string

const (
	ModalityProportional Modality = "proportional"
	ModalityAllOrNothing Modality = "all-or-nothing"
)

// DefaultModality applies when an incentive does not state one.
const DefaultModality = ModalityAllOrNothing

// ParseModality maps "" to DefaultModality and rejects unknown values.
func ParseModality(s string) (Modality, bool) {
	switch m := Modality(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DefaultModality, true
	case ModalityProportional, ModalityAllOrNothing:
		return m, true
	}
	return "", false
}

// Condition holds the payout rules of an incentive.
type Condition struct {
	Modality Modality
}

// Incentive is a reward definition.
type Incentive struct {
	ID        IncentiveID
	Name      string
	Type      IncentiveType
	Reward    Reward
	Condition Condition
}

// Modality returns the payout modality, falling back to DefaultModality.
func (i Incentive) Modality() Modality {
	if i.Condition.Modality == "" {
		return DefaultModality
	}
	return i.Condition.Modality
}

// =============================================================================
// REWARD - Tagged union of monetary amount or unit label
// =============================================================================

type RewardKind string

const (
	RewardMonetary RewardKind = "monetary"
	RewardUnit     RewardKind = "unit"
)

// Reward is what an incentive grants in full. Monetary rewards carry Amount,
// unit rewards carry Label and are never split.
type Reward struct {
	Kind   RewardKind
	Amount decimal.Decimal
	Label  string
}

func MonetaryReward(amount decimal.Decimal) Reward {
	return Reward{Kind: RewardMonetary, Amount: amount}
}

func UnitReward(label string) Reward {
	return Reward{Kind: RewardUnit, Label: label}
}

// NewReward resolves the raw value of an incentive against its type.
// Monetary values must be decimal numbers; everything else is kept verbatim.
func NewReward(t IncentiveType, value string) (Reward, error) {
	if t != TypeMonetary {
		return UnitReward(value), nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Reward{}, &MalformedValueError{Value: value}
	}
	return MonetaryReward(amount), nil
}

func (r Reward) IsMonetary() bool { return r.Kind == RewardMonetary }

// Payout returns the full reward as a payout.
func (r Reward) Payout() Payout {
	if r.IsMonetary() {
		return AmountPayout(r.Amount)
	}
	return LabelPayout(r.Label)
}

// Raw returns the reward in its stored string form.
func (r Reward) Raw() string {
	if r.IsMonetary() {
		return r.Amount.String()
	}
	return r.Label
}

// =============================================================================
// TASK
// =============================================================================

// Task is an atomic unit of work belonging to exactly one objective.
type Task struct {
	ID          TaskID
	ObjectiveID ObjectiveID
	Title       string
	AssignedTo  string
	Completed   bool
}

func (t Task) Validate() error {
	if t.ID == "" {
		return InvalidTask("id", "is required")
	}
	if t.ObjectiveID == "" {
		return InvalidTask("objectiveId", "is required")
	}
	return nil
}

// CountCompleted returns (completed, total) for a task set.
func CountCompleted(tasks []Task) (completed, total int) {
	for _, t := range tasks {
		if t.Completed {
			completed++
		}
	}
	return completed, len(tasks)
}

// =============================================================================
// PAYOUT - Result value of an evaluation (number or label)
// =============================================================================

// Payout is either a decimal amount or a unit label. The zero Payout is the
// amount 0, which is what every negative outcome returns.
type Payout struct {
	amount  decimal.Decimal
	label   string
	isLabel bool
}

// NoPayout is the zero result.
var NoPayout = Payout{}

func AmountPayout(d decimal.Decimal) Payout { return Payout{amount: d} }
func LabelPayout(label string) Payout       { return Payout{label: label, isLabel: true} }

func (p Payout) IsLabel() bool           { return p.isLabel }
func (p Payout) Amount() decimal.Decimal { return p.amount }
func (p Payout) Label() string           { return p.label }
func (p Payout) IsZero() bool            { return !p.isLabel && p.amount.IsZero() }

func (p Payout) Equal(other Payout) bool {
	if p.isLabel != other.isLabel {
		return false
	}
	if p.isLabel {
		return p.label == other.label
	}
	return p.amount.Equal(other.amount)
}

func (p Payout) String() string {
	if p.isLabel {
		return p.label
	}
	return p.amount.String()
}

// MarshalJSON encodes amounts as JSON numbers and labels as JSON strings.
func (p Payout) MarshalJSON() ([]byte, error) {
	if p.isLabel {
		return json.Marshal(p.label)
	}
	return []byte(p.amount.String()), nil
}

func (p *Payout) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = LabelPayout(s)
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*p = AmountPayout(d)
	return nil
}
