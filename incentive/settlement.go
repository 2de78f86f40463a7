package incentive

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// SETTLEMENT - Evaluation frozen once an objective is over
// =============================================================================

// Settlement records the final evaluation of an objective whose end date has
// passed. There is at most one settlement per objective; its ID is the
// objective ID.
type Settlement struct {
	ID          string
	ObjectiveID ObjectiveID
	IncentiveID IncentiveID
	Result      Payout
	Message     string
	Outcome     Outcome
	Completed   int
	Total       int
	SettledAt   time.Time
}

// SettlementID is the document id of an objective's settlement.
func SettlementID(id ObjectiveID) string { return string(id) }

// NewSettlement freezes ev for obj at instant at.
func NewSettlement(obj Objective, ev Evaluation, at time.Time) Settlement {
	return Settlement{
		ID:          SettlementID(obj.ID),
		ObjectiveID: obj.ID,
		IncentiveID: obj.IncentiveID,
		Result:      ev.Result,
		Message:     ev.Message,
		Outcome:     ev.Outcome,
		Completed:   ev.Completed,
		Total:       ev.Total,
		SettledAt:   at,
	}
}

// IsDue reports whether obj should be settled at now.
func IsDue(obj Objective, now time.Time) bool {
	return obj.HasIncentive() && obj.EndDate.HasPassed(now)
}

// =============================================================================
// SETTLER
// =============================================================================

// SettleReport summarizes one settlement run.
type SettleReport struct {
	Settled []Settlement
	Skipped int // already settled
	Failed  map[ObjectiveID]error
}

// Settler settles every due objective. Failures are reported per objective
// and retried on the next run.
type Settler struct {
	repo      *Repository
	evaluator *Evaluator
}

func NewSettler(repo *Repository, evaluator *Evaluator) *Settler {
	return &Settler{repo: repo, evaluator: evaluator}
}

// SettleDue evaluates and records every incentivized objective whose end date
// has passed at now and that has no settlement yet. The returned error is
// non-nil only when the objectives themselves cannot be listed.
func (s *Settler) SettleDue(ctx context.Context, now time.Time) (SettleReport, error) {
	report := SettleReport{Failed: make(map[ObjectiveID]error)}

	objectives, err := s.repo.ListObjectives(ctx)
	if err != nil {
		return report, err
	}

	for _, obj := range objectives {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !IsDue(obj, now) {
			continue
		}

		_, err := s.repo.GetSettlement(ctx, obj.ID)
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, ErrSettlementNotFound) {
			report.Failed[obj.ID] = err
			continue
		}

		ev, err := s.evaluator.Evaluate(ctx, obj, now)
		if err != nil {
			report.Failed[obj.ID] = err
			continue
		}

		settlement := NewSettlement(obj, ev, now)
		err = s.repo.CreateSettlement(ctx, settlement)
		if errors.Is(err, ErrAlreadySettled) {
			// another run got there first
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failed[obj.ID] = err
			continue
		}
		report.Settled = append(report.Settled, settlement)
	}

	for id, err := range report.Failed {
		zap.L().Warn("settlement failed, will retry",
			zap.String("objective_id", string(id)),
			zap.Error(err))
	}
	return report, nil
}
