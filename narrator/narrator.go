/*
Package narrator turns an evaluation into a short paragraph for humans.

PURPOSE:
  Managers read "Proportional (50%)" and want a sentence around it: who, what
  was done, what is owed and why. The narrator asks a language model to write
  that sentence from the evaluation's facts.

RULES:
  - The numeric result and message come from the evaluator and are copied
    into the Report untouched. The model only writes Narrative.
  - Calls are rate limited; a caller whose context expires while waiting
    gets the context error back.

SEE ALSO:
  - incentive/evaluator.go: Where the numbers come from
  - api/handlers.go: GET /api/objectives/{id}/report
*/
package narrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/incentive-engine/incentive"
)

const systemPrompt = `You write one short paragraph (at most three sentences) explaining an
incentive evaluation to a manager. Use only the facts given. Repeat the payout
exactly as given; never compute or round a different number.`

// Options configures a Narrator.
type Options struct {
	Model             string
	MaxTokens         int64
	RequestsPerMinute int
}

// Narrator writes prose reports. Safe for concurrent use.
type Narrator struct {
	client    Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// Report is an evaluation plus its narrative.
type Report struct {
	ObjectiveID incentive.ObjectiveID `json:"objectiveId"`
	Result      incentive.Payout      `json:"result"`
	Message     string                `json:"message"`
	Narrative   string                `json:"narrative"`
	Model       string                `json:"model"`
}

// New creates a Narrator. RequestsPerMinute <= 0 disables rate limiting.
func New(client Client, opts Options) *Narrator {
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	return &Narrator{
		client:    client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Narrate describes ev for obj. inc may be nil when the objective has no
// resolvable incentive.
func (n *Narrator) Narrate(ctx context.Context, obj incentive.Objective, inc *incentive.Incentive, ev incentive.Evaluation) (Report, error) {
	report := Report{
		ObjectiveID: obj.ID,
		Result:      ev.Result,
		Message:     ev.Message,
		Model:       n.model,
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return report, eris.Wrap(err, "narrator: wait for rate limit")
	}

	resp, err := n.client.CreateMessage(ctx, MessageRequest{
		Model:     n.model,
		MaxTokens: n.maxTokens,
		System:    systemPrompt,
		Prompt:    Prompt(obj, inc, ev),
	})
	if err != nil {
		return report, eris.Wrapf(err, "narrator: objective %s", obj.ID)
	}

	zap.L().Debug("narration written",
		zap.String("objective_id", string(obj.ID)),
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens))

	report.Narrative = strings.TrimSpace(resp.Text)
	if resp.Model != "" {
		report.Model = resp.Model
	}
	return report, nil
}

// Prompt lists the facts the model may use.
func Prompt(obj incentive.Objective, inc *incentive.Incentive, ev incentive.Evaluation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", obj.Title)
	if obj.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", obj.Description)
	}
	fmt.Fprintf(&b, "Assigned to: %s\n", obj.AssignedTo)
	fmt.Fprintf(&b, "Period: %s to %s\n", obj.StartDate, obj.EndDate)
	if inc != nil {
		fmt.Fprintf(&b, "Incentive: %s (%s, %s, value %s)\n", inc.Name, inc.Type, inc.Modality(), inc.Reward.Raw())
	}
	fmt.Fprintf(&b, "Tasks completed: %d of %d\n", ev.Completed, ev.Total)
	if ev.Expired {
		b.WriteString("The deadline has passed.\n")
	}
	fmt.Fprintf(&b, "Payout: %s\n", ev.Result)
	fmt.Fprintf(&b, "Evaluator message: %s\n", ev.Message)
	return b.String()
}
