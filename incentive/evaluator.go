/*
evaluator.go - Incentive evaluation

PURPOSE:
  Decides what an objective pays out right now. Evaluate is a pure function
  of (objective, incentive, tasks, now); Evaluator wraps it with the two
  lookups (incentive by id, tasks by objective) that feed it.

DECISION ORDER:
  1. Not incentivized             -> 0, "No incentive associated"
  2. Incentive missing            -> 0, "Incentive not found"
  3. Zero tasks                   -> 0, "No tasks"
  4. Expired, not all done        -> 0, "Deadline expired, not met"
  5. Proportional + monetary      -> amount * completed/total
  6. Everything done              -> the full reward
  7. Otherwise                    -> 0, "Incentive not met"

  Expiry is checked before modality: once the end date is over, partial
  completion is worth nothing.

CONCURRENCY:
  The incentive and task lookups run in parallel. Read skew between them is
  accepted; each call reads fresh data and nothing is cached.

EXAMPLE:
  ev := incentive.NewEvaluator(repo, repo, repo)
  result, err := ev.EvaluateByID(ctx, "obj-1", time.Now())
  // result.Result == 500, result.Message == "Proportional (50%)"

SEE ALSO:
  - types.go: Reward and Payout
  - settlement.go: Recording evaluations once an objective is over
*/
package incentive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// OUTCOME - What kind of answer the evaluator gave
// =============================================================================

type Outcome string

const (
	OutcomeNotIncentivized  Outcome = "not_incentivized"
	OutcomeIncentiveMissing Outcome = "incentive_not_found"
	OutcomeNoTasks          Outcome = "no_tasks"
	OutcomeExpired          Outcome = "expired"
	OutcomeProportional     Outcome = "proportional"
	OutcomeFull             Outcome = "full"
	OutcomeNotMet           Outcome = "not_met"
)

// Outcomes lists every outcome, in decision order.
var Outcomes = []Outcome{
	OutcomeNotIncentivized,
	OutcomeIncentiveMissing,
	OutcomeNoTasks,
	OutcomeExpired,
	OutcomeProportional,
	OutcomeFull,
	OutcomeNotMet,
}

// User-facing messages. Callers render these verbatim.
const (
	MsgNoIncentive      = "No incentive associated"
	MsgIncentiveMissing = "Incentive not found"
	MsgNoTasks          = "No tasks"
	MsgExpired          = "Deadline expired, not met"
	MsgFull             = "Full incentive"
	MsgNotMet           = "Incentive not met"
)

// ProportionalMessage formats the proportional message, e.g. "Proportional (50%)".
func ProportionalMessage(ratio float64) string {
	return fmt.Sprintf("Proportional (%d%%)", int(math.Round(ratio*100)))
}

// =============================================================================
// EVALUATION - Result of one evaluation
// =============================================================================

// Evaluation is the answer for one objective at one instant. Result and
// Message are the public contract; the remaining fields explain it.
type Evaluation struct {
	Result    Payout
	Message   string
	Outcome   Outcome
	Completed int
	Total     int
	Ratio     float64
	Expired   bool
}

// Pays reports whether the evaluation grants anything.
func (e Evaluation) Pays() bool {
	return !e.Result.IsZero()
}

func negative(outcome Outcome, message string) Evaluation {
	return Evaluation{Result: NoPayout, Message: message, Outcome: outcome}
}

// =============================================================================
// PURE EVALUATION
// =============================================================================

// Evaluate computes the payout for obj at instant now. A nil inc means the
// objective's incentive could not be resolved. Only tasks belonging to obj
// are counted.
func Evaluate(obj Objective, inc *Incentive, tasks []Task, now time.Time) Evaluation {
	if !obj.HasIncentive() {
		return negative(OutcomeNotIncentivized, MsgNoIncentive)
	}
	if inc == nil {
		return negative(OutcomeIncentiveMissing, MsgIncentiveMissing)
	}

	completed, total := 0, 0
	for _, t := range tasks {
		if t.ObjectiveID != obj.ID {
			continue
		}
		total++
		if t.Completed {
			completed++
		}
	}
	if total == 0 {
		return negative(OutcomeNoTasks, MsgNoTasks)
	}

	ratio := float64(completed) / float64(total)
	expired := obj.EndDate.HasPassed(now)
	done := completed == total

	ev := Evaluation{
		Result:    NoPayout,
		Message:   MsgNotMet,
		Outcome:   OutcomeNotMet,
		Completed: completed,
		Total:     total,
		Ratio:     ratio,
		Expired:   expired,
	}

	if expired && !done {
		ev.Message = MsgExpired
		ev.Outcome = OutcomeExpired
		return ev
	}

	// A unit reward cannot be split, so proportional falls through to
	// all-or-nothing for it.
	if inc.Modality() == ModalityProportional && inc.Reward.IsMonetary() {
		ev.Result = AmountPayout(proportionalAmount(inc.Reward.Amount, completed, total))
		ev.Message = ProportionalMessage(ratio)
		ev.Outcome = OutcomeProportional
		return ev
	}

	if done {
		ev.Result = inc.Reward.Payout()
		ev.Message = MsgFull
		ev.Outcome = OutcomeFull
	}
	return ev
}

// proportionalAmount is amount * completed / total, multiplied first so exact
// ratios (1/2, 3/4) stay exact.
func proportionalAmount(amount decimal.Decimal, completed, total int) decimal.Decimal {
	if completed == total {
		return amount
	}
	return amount.Mul(decimal.NewFromInt(int64(completed))).Div(decimal.NewFromInt(int64(total)))
}

// =============================================================================
// EVALUATOR - Evaluation with lookups
// =============================================================================

// ObjectiveSource resolves objectives. Missing objectives return ErrObjectiveNotFound.
type ObjectiveSource interface {
	GetObjective(ctx context.Context, id ObjectiveID) (Objective, error)
}

// IncentiveSource resolves incentives. Missing incentives return ErrIncentiveNotFound.
type IncentiveSource interface {
	GetIncentive(ctx context.Context, id IncentiveID) (Incentive, error)
}

// TaskSource lists the tasks of an objective.
type TaskSource interface {
	ListTasksByObjective(ctx context.Context, id ObjectiveID) ([]Task, error)
}

// Evaluator runs Evaluate against live data. It holds no state besides its
// sources and is safe for concurrent use.
type Evaluator struct {
	objectives ObjectiveSource
	incentives IncentiveSource
	tasks      TaskSource
	observer   Observer
}

// Observer is told about every completed evaluation.
type Observer func(outcome Outcome, took time.Duration)

func NewEvaluator(objectives ObjectiveSource, incentives IncentiveSource, tasks TaskSource) *Evaluator {
	return &Evaluator{objectives: objectives, incentives: incentives, tasks: tasks}
}

// WithObserver returns a copy of e that reports to obs.
func (e *Evaluator) WithObserver(obs Observer) *Evaluator {
	cp := *e
	cp.observer = obs
	return &cp
}

// errIncentiveMissing stops the task lookup once the incentive is known to
// be gone; it never leaves this file.
var errIncentiveMissing = errors.New("incentive missing")

// Evaluate resolves the incentive and tasks of obj and evaluates it at now.
// A missing incentive is a normal result; malformed incentives and store
// failures are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, obj Objective, now time.Time) (Evaluation, error) {
	start := time.Now()
	if !obj.HasIncentive() {
		return e.done(obj, Evaluate(obj, nil, nil, now), start), nil
	}

	var (
		inc     Incentive
		missing bool
		tasks   []Task
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Parent context: a failing task lookup must not hide a missing incentive.
		found, err := e.incentives.GetIncentive(ctx, obj.IncentiveID)
		if errors.Is(err, ErrIncentiveNotFound) {
			missing = true
			return errIncentiveMissing
		}
		if err != nil {
			return eris.Wrapf(err, "get incentive %s", obj.IncentiveID)
		}
		inc = found
		return nil
	})
	g.Go(func() error {
		found, err := e.tasks.ListTasksByObjective(gctx, obj.ID)
		if err != nil {
			return eris.Wrapf(err, "list tasks of objective %s", obj.ID)
		}
		tasks = found
		return nil
	})

	if err := g.Wait(); err != nil {
		if missing {
			return e.done(obj, Evaluate(obj, nil, nil, now), start), nil
		}
		zap.L().Error("evaluation failed",
			zap.String("objective_id", string(obj.ID)),
			zap.Error(err))
		return Evaluation{}, err
	}

	return e.done(obj, Evaluate(obj, &inc, tasks, now), start), nil
}

// EvaluateByID loads the objective first. An unknown id returns
// ErrObjectiveNotFound before any evaluation happens.
func (e *Evaluator) EvaluateByID(ctx context.Context, id ObjectiveID, now time.Time) (Objective, Evaluation, error) {
	obj, err := e.objectives.GetObjective(ctx, id)
	if err != nil {
		return Objective{}, Evaluation{}, err
	}
	ev, err := e.Evaluate(ctx, obj, now)
	if err != nil {
		return obj, Evaluation{}, err
	}
	return obj, ev, nil
}

func (e *Evaluator) done(obj Objective, ev Evaluation, start time.Time) Evaluation {
	took := time.Since(start)
	zap.L().Debug("objective evaluated",
		zap.String("objective_id", string(obj.ID)),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("result", ev.Result.String()),
		zap.Duration("took", took))
	if e.observer != nil {
		e.observer(ev.Outcome, took)
	}
	return ev
}
