package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/bundle"
	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/executor"
	"github.com/michaelpento.lv/arbengine/flashbots"
	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

const (
	opportunityQueueSize = 16
	seenCacheSize        = 4096
)

var ErrQueueFull = errors.New("opportunity queue is full")

type Options struct {
	// ScanOnly logs opportunities without executing them
	ScanOnly bool
}

// Bot represents the arbitrage engine instance
type Bot struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger

	backend     *ethclient.Client
	venues      *dex.Registry
	reg         *prometheus.Registry
	scanMetrics *metrics.ScannerMetrics
	scanner     *arbitrage.Scanner
	estimator   *gas.Estimator

	chain       *chain.Client
	coordinator *executor.Coordinator
	builder     *bundle.Builder

	opportunities chan *arbitrage.Opportunity
	seen          *lru.Cache
	wg            sync.WaitGroup
}

// New creates a new bot instance connected to the configured node
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := ethclient.DialContext(ctx, cfg.Network.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}

	reader, err := uniswap.NewPairReader(backend, cfg.RPCRateLimit.Limiter())
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create pair reader: %w", err)
	}

	venues, err := cfg.BuildRegistry(reader)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to build venue registry: %w", err)
	}

	b, err := newBot(cfg, opts, venues, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	b.backend = backend
	b.estimator = gas.NewEstimator(backend, logger)

	if err := b.setupScanner(); err != nil {
		backend.Close()
		return nil, err
	}
	if !opts.ScanOnly {
		if err := b.setupExecution(); err != nil {
			backend.Close()
			return nil, err
		}
	}

	return b, nil
}

func newBot(cfg *config.Config, opts Options, venues *dex.Registry, logger *zap.Logger) (*Bot, error) {
	seen, err := lru.New(seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create opportunity cache: %w", err)
	}
	reg := metrics.NewRegistry()

	return &Bot{
		cfg:           cfg,
		opts:          opts,
		logger:        logger,
		venues:        venues,
		reg:           reg,
		scanMetrics:   metrics.NewScannerMetrics(reg, metrics.Namespace),
		opportunities: make(chan *arbitrage.Opportunity, opportunityQueueSize),
		seen:          seen,
	}, nil
}

func (b *Bot) setupScanner() error {
	spec, err := b.cfg.ScannerSpec(b.venues)
	if err != nil {
		return fmt.Errorf("failed to resolve scanner config: %w", err)
	}

	var consumer arbitrage.Consumer
	if !b.opts.ScanOnly {
		consumer = arbitrage.ConsumerFunc(b.enqueue)
	}

	var cost arbitrage.CostEstimator
	if b.estimator != nil {
		cost = b.estimator
	}

	evaluator := arbitrage.NewEvaluator(b.cfg.Scanner.SlippageBps, b.scanMetrics, b.logger)
	scanner, err := arbitrage.NewScanner(spec, b.venues, evaluator, consumer, cost, b.scanMetrics, b.logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}
	b.scanner = scanner
	return nil
}

func (b *Bot) setupExecution() error {
	bundleMode := b.cfg.Execution.Mode == config.ModeBundle

	secure, err := config.LoadSecureConfig(bundleMode)
	if err != nil {
		return err
	}
	key, err := config.ParseKey(secure.PrivateKey)
	if err != nil {
		return err
	}

	client, err := chain.NewClient(b.backend, key, b.cfg.ChainConfig(), b.logger)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	b.chain = client

	coordinator, err := executor.NewCoordinator(client, b.cfg.ExecutorConfig(), metrics.NewExecutionMetrics(b.reg, metrics.Namespace), b.logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	b.coordinator = coordinator

	if !bundleMode {
		return nil
	}

	authKey, err := config.ParseKey(secure.FlashbotsKey)
	if err != nil {
		return err
	}
	relay, err := flashbots.NewClient(b.cfg.Network.RelayURL, authKey, b.cfg.RelayRateLimit.Limiter(), b.logger)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}

	builder, err := bundle.NewBuilder(client, relay, client, b.cfg.Bundle.CacheSize, metrics.NewBundleMetrics(b.reg, metrics.Namespace), b.logger)
	if err != nil {
		return fmt.Errorf("failed to create bundle builder: %w", err)
	}
	b.builder = builder
	return nil
}

// Venues returns the configured venue registry
func (b *Bot) Venues() *dex.Registry {
	return b.venues
}

// ScanOnce refreshes fees and runs a single scan tick
func (b *Bot) ScanOnce(ctx context.Context) ([]*arbitrage.Opportunity, error) {
	if err := b.estimator.Update(ctx); err != nil {
		b.logger.Warn("Failed to update gas fees", zap.Error(err))
	}
	return b.scanner.Tick(ctx)
}

// Start starts the scan loop and, unless scanning only, the executor
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting arbitrage engine...",
		zap.String("mode", b.cfg.Execution.Mode),
		zap.Bool("scan_only", b.opts.ScanOnly),
		zap.Int("venues", len(b.venues.Venues())))

	metrics.Serve(ctx, b.cfg.Metrics.Addr, b.reg, b.logger)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.estimator.Run(ctx, gas.DefaultUpdateInterval)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.scanner.Run(ctx); err != nil {
			b.logger.Error("Scanner error", zap.Error(err))
		}
	}()

	if b.cfg.Metrics.LogMetrics {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			metrics.Report(ctx, b.cfg.Metrics.ReportInterval.Duration(), b.logger, b.scanMetrics.Fields)
		}()
	}

	if !b.opts.ScanOnly {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.processOpportunities(ctx)
		}()
	}

	return nil
}

// Stop waits for every loop to exit. Cancel the Start context first.
func (b *Bot) Stop() {
	b.logger.Info("Stopping arbitrage engine...")
	b.wg.Wait()
	if b.backend != nil {
		b.backend.Close()
	}
}

// enqueue hands an opportunity to the executor without blocking the scan loop
func (b *Bot) enqueue(ctx context.Context, opp *arbitrage.Opportunity) error {
	fp := opp.Fingerprint()
	if seen, _ := b.seen.ContainsOrAdd(fp, struct{}{}); seen {
		b.logger.Debug("Skipping repeated opportunity", zap.String("path", opp.Path.String()))
		return nil
	}

	select {
	case b.opportunities <- opp:
		return nil
	default:
		b.seen.Remove(fp)
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, opp.Path)
	}
}

// processOpportunities executes queued opportunities one at a time
func (b *Bot) processOpportunities(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-b.opportunities:
			if err := b.executeOpportunity(ctx, opp); err != nil {
				b.logger.Error("Failed to execute opportunity",
					zap.Error(err),
					zap.String("path", opp.Path.String()),
					zap.String("net_profit", opp.NetProfit().String()))
			}
		}
	}
}

func (b *Bot) executeOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	if age := time.Since(opp.FoundAt); age > b.cfg.Scanner.Interval.Duration() {
		b.logger.Info("Skipping expired opportunity",
			zap.String("path", opp.Path.String()),
			zap.Duration("age", age))
		return nil
	}

	b.logger.Info("Executing opportunity",
		zap.String("path", opp.Path.String()),
		zap.String("amount_in", opp.StartAmount.String()),
		zap.String("net_profit", opp.NetProfit().String()),
		zap.Uint64("block", opp.BlockNumber))

	plan, err := b.coordinator.BuildPlan(ctx, opp, 0, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	if b.builder != nil {
		return b.submitBundle(ctx, opp, plan)
	}

	result, err := b.coordinator.Execute(ctx, plan)
	if result != nil {
		b.reportExecution(plan, result)
	}
	return err
}

// reportExecution logs the balances a plan moved. A stopped plan also logs
// every step's status, since completed swaps are not rolled back.
func (b *Bot) reportExecution(plan *executor.Plan, result *executor.Result) {
	if !result.Succeeded() {
		succeeded := 0
		for _, outcome := range result.Outcomes {
			if outcome.Status == executor.StatusSucceeded {
				succeeded++
			}
		}
		msg := "Execution failed"
		if succeeded > 0 {
			msg = "Partial execution"
		}
		b.logger.Error(msg,
			zap.String("path", plan.Opportunity.Path.String()),
			zap.Int("failed_step", result.FailedStep),
			zap.Int("succeeded_steps", succeeded),
			zap.Int("steps", len(plan.Steps)),
			zap.Error(result.Err))

		for i, step := range plan.Steps {
			outcome := result.Outcomes[i]
			b.logger.Info("Step outcome",
				zap.Int("step", i),
				zap.String("step_desc", step.String()),
				zap.String("status", outcome.Status.String()),
				zap.String("tx", outcome.TxHash.Hex()))
		}
	}

	tokens := make([]common.Address, 0, len(result.BalanceChanges))
	for token := range result.BalanceChanges {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Hex() < tokens[j].Hex() })
	for _, token := range tokens {
		b.logger.Info("Balance change",
			zap.String("token", token.Hex()),
			zap.String("delta", result.BalanceChanges[token].String()))
	}
}

// submitBundle sends the plan as one bundle to each of the next
// MaxTargetBlocks blocks
func (b *Bot) submitBundle(ctx context.Context, opp *arbitrage.Opportunity, plan *executor.Plan) error {
	current, err := b.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read block number: %w", err)
	}

	bndl, err := b.builder.BuildBundle(ctx, []*executor.Plan{plan}, current+1, b.priorityPayment(opp))
	if err != nil {
		return err
	}

	submitted := 0
	for i := 0; i < b.cfg.Bundle.MaxTargetBlocks; i++ {
		if i > 0 {
			bndl.Retarget(current + 1 + uint64(i))
		}

		sim, err := b.builder.Simulate(ctx, bndl)
		if err != nil {
			return err
		}
		if !sim.Accepted {
			return fmt.Errorf("%w: %s", bundle.ErrSimulationRejected, sim.Reason)
		}

		res, err := b.builder.Submit(ctx, bndl)
		if err != nil {
			return err
		}
		if res.Err != nil {
			b.logger.Warn("Bundle not submitted",
				zap.Uint64("target_block", bndl.TargetBlock),
				zap.Error(res.Err))
			continue
		}
		submitted++
	}

	if submitted == 0 {
		return fmt.Errorf("%w: no target block accepted bundle %s", bundle.ErrSubmissionFailed, bndl.Hash.Hex())
	}
	return nil
}

// priorityPayment pays the configured share of a WETH denominated profit
// to the block builder
func (b *Bot) priorityPayment(opp *arbitrage.Opportunity) *bundle.PriorityPayment {
	coinbase := b.cfg.Bundle.CoinbaseAddress()
	if b.cfg.Bundle.PriorityShareBps == 0 || coinbase == (common.Address{}) {
		return nil
	}
	if opp.StartToken != uniswap.WETHAddress {
		return nil
	}

	amount := gas.PriorityPayment(opp.NetProfit(), b.cfg.Bundle.PriorityShareBps)
	if amount.Sign() <= 0 {
		return nil
	}
	return &bundle.PriorityPayment{To: coinbase, Amount: amount}
}
