package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

const (
	DefaultInterval           = 5 * time.Second
	DefaultMaxHops            = 3
	DefaultRefreshConcurrency = 8
)

var ErrNoStarts = errors.New("scanner has no start tokens")

type State int

const (
	StateIdle State = iota
	StateScanning
	StateFound
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateFound:
		return "found"
	case StateNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Consumer receives every opportunity a tick emits. OnOpportunity runs on
// the scan loop, so implementations must hand off rather than execute.
type Consumer interface {
	OnOpportunity(ctx context.Context, opp *Opportunity) error
}

// ConsumerFunc adapts a function to Consumer
type ConsumerFunc func(ctx context.Context, opp *Opportunity) error

func (f ConsumerFunc) OnOpportunity(ctx context.Context, opp *Opportunity) error {
	return f(ctx, opp)
}

// CostEstimator prices the execution of a path of the given length in
// start token units
type CostEstimator interface {
	EstimateCost(ctx context.Context, hops int) (*big.Int, error)
}

// StartSpec is one start token and the sizes to try from it. MinProfit,
// when set, overrides the scanner-wide threshold.
type StartSpec struct {
	Token        common.Address
	Amounts      []*big.Int
	ApplyGasCost bool
	MinProfit    *big.Int
}

type ScannerConfig struct {
	Interval           time.Duration
	MaxHops            int
	MinProfit          *big.Int
	RefreshConcurrency int
	Starts             []StartSpec
	// VenueIDs restricts the universe; empty means every registered venue
	VenueIDs []string
}

// Scanner periodically refreshes the venue universe and reports the best
// cyclic opportunity of each tick
type Scanner struct {
	cfg       ScannerConfig
	registry  *dex.Registry
	evaluator *Evaluator
	consumer  Consumer
	cost      CostEstimator
	metrics   *metrics.ScannerMetrics
	logger    *zap.Logger

	tickMu sync.Mutex

	mu          sync.RWMutex
	state       State
	lastOutcome State
	last        []*Opportunity

	now func() time.Time
}

// NewScanner creates a new opportunity scanner. consumer, cost and m may be nil.
func NewScanner(cfg ScannerConfig, registry *dex.Registry, evaluator *Evaluator, consumer Consumer, cost CostEstimator, m *metrics.ScannerMetrics, logger *zap.Logger) (*Scanner, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if len(cfg.Starts) == 0 {
		return nil, ErrNoStarts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.MaxHops < MinHops || cfg.MaxHops > MaxHops {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHops, cfg.MaxHops)
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = DefaultRefreshConcurrency
	}
	for _, start := range cfg.Starts {
		if _, err := registry.Token(start.Token); err != nil {
			return nil, fmt.Errorf("invalid start token %s: %w", start.Token.Hex(), err)
		}
		if len(start.Amounts) == 0 {
			return nil, fmt.Errorf("start token %s has no amounts", start.Token.Hex())
		}
	}
	for _, id := range cfg.VenueIDs {
		if _, err := registry.Venue(id); err != nil {
			return nil, err
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewScannerMetrics(prometheus.NewRegistry(), metrics.Namespace)
	}
	if evaluator == nil {
		evaluator = NewEvaluator(0, m, logger)
	}

	return &Scanner{
		cfg:       cfg,
		registry:  registry,
		evaluator: evaluator,
		consumer:  consumer,
		cost:      cost,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// State returns the current scanner state
func (s *Scanner) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastOutcome returns StateFound or StateNotFound for the last completed
// tick, StateIdle before the first one
func (s *Scanner) LastOutcome() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOutcome
}

// Last returns the opportunities emitted by the last tick that found any
func (s *Scanner) Last() []*Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scanner) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run ticks until ctx is cancelled. The first tick starts immediately.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Starting opportunity scanner",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_hops", s.cfg.MaxHops),
		zap.Int("starts", len(s.cfg.Starts)))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scan tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Stopping opportunity scanner")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one full scan. Profit is only comparable within one start
// token, so each start spec yields at most one opportunity: its most
// profitable cycle across all sizes. The profitable ones are emitted in
// start order and returned.
func (s *Scanner) Tick(ctx context.Context) ([]*Opportunity, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := s.now()
	s.setState(StateScanning)
	s.metrics.Ticks.Inc()
	defer func() {
		s.metrics.TickDuration.Observe(time.Since(started).Seconds())
		s.setState(StateIdle)
	}()

	live, err := s.refresh(ctx, s.universe())
	if err != nil {
		return nil, err
	}

	var found []*Opportunity
	for _, start := range s.cfg.Starts {
		best := s.bestForStart(ctx, start, live, started)
		if best == nil {
			continue
		}
		minProfit := s.cfg.MinProfit
		if start.MinProfit != nil {
			minProfit = start.MinProfit
		}
		if best.IsProfitable(minProfit) {
			found = append(found, best)
		}
	}

	if len(found) == 0 {
		s.metrics.NotFound.Inc()
		s.mu.Lock()
		s.state = StateNotFound
		s.lastOutcome = StateNotFound
		s.mu.Unlock()

		s.logger.Debug("No profitable opportunity", zap.Int("venues", len(live)))
		return nil, nil
	}

	s.metrics.Found.Inc()
	netProfit, _ := new(big.Float).SetInt(found[0].NetProfit()).Float64()
	s.metrics.BestNetProfit.Set(netProfit)

	s.mu.Lock()
	s.state = StateFound
	s.lastOutcome = StateFound
	s.last = found
	s.mu.Unlock()

	for _, opp := range found {
		s.logger.Info("Found opportunity",
			zap.String("path", opp.Path.String()),
			zap.String("amount_in", opp.StartAmount.String()),
			zap.String("profit", opp.Profit.String()),
			zap.String("net_profit", opp.NetProfit().String()),
			zap.Uint64("block", opp.BlockNumber))

		if s.consumer == nil {
			continue
		}
		if err := s.consumer.OnOpportunity(ctx, opp); err != nil {
			s.metrics.ConsumerErrors.Inc()
			s.logger.Error("Opportunity consumer failed", zap.Error(err))
		}
	}

	return found, nil
}

func (s *Scanner) bestForStart(ctx context.Context, start StartSpec, live []dex.Venue, foundAt time.Time) *Opportunity {
	var (
		best  *Opportunity
		costs = make(map[int]*big.Int)
	)
	for _, amount := range start.Amounts {
		opps, err := s.evaluator.FindCycles(start.Token, amount, live, s.cfg.MaxHops)
		if err != nil {
			s.logger.Warn("Failed to evaluate start",
				zap.String("token", start.Token.Hex()),
				zap.String("amount", amount.String()),
				zap.Error(err))
			continue
		}

		for _, opp := range opps {
			opp.FoundAt = foundAt
			if start.ApplyGasCost && s.cost != nil {
				cost, err := s.costFor(ctx, costs, opp.Hops())
				if err != nil {
					s.logger.Warn("Failed to estimate cost", zap.Error(err))
					continue
				}
				opp.CostAdjustment = cost
			}
			if best == nil || better(opp, best) {
				best = opp
			}
		}
	}
	return best
}

func (s *Scanner) costFor(ctx context.Context, cache map[int]*big.Int, hops int) (*big.Int, error) {
	if cost, ok := cache[hops]; ok {
		return cost, nil
	}
	cost, err := s.cost.EstimateCost(ctx, hops)
	if err != nil {
		return nil, err
	}
	cache[hops] = cost
	return cost, nil
}

func (s *Scanner) universe() []dex.Venue {
	if len(s.cfg.VenueIDs) == 0 {
		return s.registry.Venues()
	}
	venues := make([]dex.Venue, 0, len(s.cfg.VenueIDs))
	for _, id := range s.cfg.VenueIDs {
		if v, err := s.registry.Venue(id); err == nil {
			venues = append(venues, v)
		}
	}
	return venues
}

// refresh reloads every venue concurrently and returns the ones that
// succeeded, in input order
func (s *Scanner) refresh(ctx context.Context, venues []dex.Venue) ([]dex.Venue, error) {
	ok := make([]bool, len(venues))

	var g errgroup.Group
	g.SetLimit(s.cfg.RefreshConcurrency)

	for i, v := range venues {
		i, v := i, v
		g.Go(func() error {
			if err := v.RefreshReserves(ctx); err != nil {
				s.metrics.RefreshErrors.Inc()
				s.logger.Warn("Failed to refresh reserves",
					zap.String("venue", v.ID()),
					zap.Error(err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh venues: %w", err)
	}

	live := make([]dex.Venue, 0, len(venues))
	for i, v := range venues {
		if ok[i] {
			live = append(live, v)
		}
	}
	return live, nil
}
