package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/quote"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

const DefaultDeadline = 2 * time.Minute

type Config struct {
	SlippageBps uint32
	Deadline    time.Duration
	// RefreshBeforeSwap reloads the venue right before each swap's re-quote
	RefreshBeforeSwap bool
	// StrictStaleness fails a swap whose venue snapshot is behind the chain
	StrictStaleness bool
}

// Coordinator turns opportunities into plans and runs them step by step
type Coordinator struct {
	chain   Chain
	cfg     Config
	metrics *metrics.ExecutionMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewCoordinator creates a new execution coordinator. m may be nil.
func NewCoordinator(chain Chain, cfg Config, m *metrics.ExecutionMetrics, logger *zap.Logger) (*Coordinator, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = quote.DefaultSlippageBps
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewExecutionMetrics(prometheus.NewRegistry(), metrics.Namespace)
	}

	return &Coordinator{
		chain:   chain,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// BuildPlan derives the steps for opp. Each hop assumes the previous hop
// only delivered its minimum output. A zero slippageBps or deadline uses
// the configured default.
func (c *Coordinator) BuildPlan(ctx context.Context, opp *arbitrage.Opportunity, slippageBps uint32, deadline time.Time) (*Plan, error) {
	if opp == nil || len(opp.Path) == 0 {
		return nil, ErrEmptyPlan
	}
	if err := opp.Path.Validate(); err != nil {
		return nil, err
	}
	if slippageBps == 0 {
		slippageBps = c.cfg.SlippageBps
	}
	if deadline.IsZero() {
		deadline = c.now().Add(c.cfg.Deadline)
	}

	sender := c.chain.Sender()
	plan := &Plan{
		Opportunity: opp,
		Sender:      sender,
		Deadline:    deadline,
	}

	type approval struct{ token, spender common.Address }
	needed := make(map[approval]*big.Int)

	assumedIn := new(big.Int).Set(opp.StartAmount)
	for i, hop := range opp.Path {
		provider, ok := hop.Venue.(dex.RouterProvider)
		if !ok || provider.GetRouterAddress() == (common.Address{}) {
			return nil, fmt.Errorf("hop %d on %s: %w", i, hop.Venue.ID(), ErrNoRouter)
		}
		router := provider.GetRouterAddress()

		tokenOut, err := hop.TokenOut()
		if err != nil {
			return nil, fmt.Errorf("hop %d on %s: %w", i, hop.Venue.ID(), err)
		}

		key := approval{token: hop.TokenIn, spender: router}
		total, ok := needed[key]
		if !ok {
			total = new(big.Int)
			needed[key] = total
		}
		total.Add(total, assumedIn)

		allowance, err := c.chain.Allowance(ctx, hop.TokenIn, sender, router)
		if err != nil {
			return nil, fmt.Errorf("failed to read allowance for hop %d: %w", i, err)
		}
		if allowance.Cmp(total) < 0 {
			plan.Steps = append(plan.Steps, Step{
				Kind:    StepApprove,
				Token:   hop.TokenIn,
				Spender: router,
				Amount:  new(big.Int).Set(total),
			})
		}

		out, err := hop.Venue.QuoteOutput(hop.TokenIn, assumedIn)
		if err != nil {
			return nil, fmt.Errorf("failed to quote hop %d on %s: %w", i, hop.Venue.ID(), err)
		}
		minOut := quote.MinOutput(out, slippageBps)

		plan.Steps = append(plan.Steps, Step{
			Kind:         StepSwap,
			Venue:        hop.Venue,
			Router:       router,
			TokenIn:      hop.TokenIn,
			TokenOut:     tokenOut,
			AmountIn:     new(big.Int).Set(assumedIn),
			MinAmountOut: minOut,
			Recipient:    sender,
			Deadline:     deadline,
		})

		assumedIn = minOut
	}

	plan.Outcomes = make([]StepOutcome, len(plan.Steps))
	return plan, nil
}

// Execute runs the plan's steps in order and stops at the first failure.
// Completed steps are not rolled back. The returned Result is non-nil for
// any non-empty plan, and the error is the failing step's error.
func (c *Coordinator) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, ErrEmptyPlan
	}
	if len(plan.Outcomes) != len(plan.Steps) {
		plan.Outcomes = make([]StepOutcome, len(plan.Steps))
	}

	started := c.now()
	c.metrics.Plans.Inc()

	result := &Result{
		Outcomes:       plan.Outcomes,
		FailedStep:     -1,
		BalanceChanges: make(map[common.Address]*big.Int),
	}

	for i := range plan.Steps {
		step := plan.Steps[i]
		outcome := &plan.Outcomes[i]

		err := c.runStep(ctx, plan, step, outcome)
		status := StatusSucceeded
		if err != nil {
			status = StatusFailed
		}
		outcome.Status = status
		c.metrics.Steps.WithLabelValues(step.Kind.String(), status.String()).Inc()

		if err != nil {
			outcome.Err = err
			result.FailedStep = i
			result.Err = fmt.Errorf("step %d (%s): %w", i, step.Kind, err)
			c.metrics.Failures.WithLabelValues(failureReason(err)).Inc()

			c.logger.Error("Plan step failed",
				zap.Int("step", i),
				zap.String("kind", step.Kind.String()),
				zap.Int("remaining", len(plan.Steps)-i-1),
				zap.Error(err))
			break
		}

		for _, change := range outcome.BalanceChanges {
			total, ok := result.BalanceChanges[change.Token]
			if !ok {
				total = new(big.Int)
				result.BalanceChanges[change.Token] = total
			}
			total.Add(total, change.Delta)
		}

		c.logger.Info("Plan step succeeded",
			zap.Int("step", i),
			zap.String("step_desc", step.String()),
			zap.String("tx", outcome.TxHash.Hex()))
	}

	result.Duration = c.now().Sub(started)
	c.metrics.ExecutionTime.Observe(result.Duration.Seconds())
	return result, result.Err
}

func (c *Coordinator) runStep(ctx context.Context, plan *Plan, step Step, outcome *StepOutcome) error {
	if !plan.Deadline.IsZero() && !c.now().Before(plan.Deadline) {
		return ErrDeadlineExpired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if step.Kind == StepSwap {
		if err := c.checkQuote(ctx, step); err != nil {
			return err
		}
	}

	call, err := StepCall(step)
	if err != nil {
		return err
	}

	var before []*big.Int
	if step.Kind == StepSwap {
		before, err = c.balances(ctx, plan.Sender, step)
		if err != nil {
			return err
		}
	}

	receipt, err := c.chain.Submit(ctx, call)
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", step.Kind, err)
	}
	outcome.TxHash = receipt.TxHash
	outcome.GasUsed = receipt.GasUsed
	if !receipt.Success {
		return fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}

	if step.Kind == StepSwap {
		after, err := c.balances(ctx, plan.Sender, step)
		if err != nil {
			return err
		}
		outcome.BalanceChanges = []BalanceChange{
			{Token: step.TokenIn, Delta: new(big.Int).Sub(after[0], before[0])},
			{Token: step.TokenOut, Delta: new(big.Int).Sub(after[1], before[1])},
		}
	}
	return nil
}

// checkQuote re-prices the hop against current reserves
func (c *Coordinator) checkQuote(ctx context.Context, step Step) error {
	if c.cfg.RefreshBeforeSwap {
		if err := step.Venue.RefreshReserves(ctx); err != nil {
			return err
		}
	} else {
		block, err := c.chain.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to read block number: %w", err)
		}
		if step.Venue.IsStale(block) {
			if c.cfg.StrictStaleness {
				return fmt.Errorf("%w: %s behind block %d", dex.ErrStaleReserves, step.Venue.ID(), block)
			}
			c.logger.Warn("Swapping against stale reserves",
				zap.String("venue", step.Venue.ID()),
				zap.Uint64("block", block),
				zap.Uint64("snapshot_block", step.Venue.Reserves().BlockNumber))
		}
	}

	q, err := quote.QuotePath(quote.Path{{Venue: step.Venue, TokenIn: step.TokenIn}}, step.AmountIn, 0)
	if err != nil {
		return fmt.Errorf("failed to re-quote %s: %w", step.Venue.ID(), err)
	}
	if q.AmountOut.Cmp(step.MinAmountOut) < 0 {
		return fmt.Errorf("%w: %s quotes %s, minimum %s", ErrSlippageExceeded, step.Venue.ID(), q.AmountOut, step.MinAmountOut)
	}
	return nil
}

func (c *Coordinator) balances(ctx context.Context, owner common.Address, step Step) ([]*big.Int, error) {
	in, err := c.chain.BalanceOf(ctx, step.TokenIn, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	out, err := c.chain.BalanceOf(ctx, step.TokenOut, step.Recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return []*big.Int{in, out}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrDeadlineExpired):
		return "deadline"
	case errors.Is(err, ErrReverted):
		return "reverted"
	case errors.Is(err, dex.ErrStaleReserves):
		return "stale"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
