package arbitrage

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/quote"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

const (
	MinHops = 2
	MaxHops = 4
)

var ErrInvalidHops = errors.New("max hops out of range")

// Evaluator enumerates and ranks cyclic paths
type Evaluator struct {
	slippageBps uint32
	logger      *zap.Logger
	metrics     *metrics.ScannerMetrics
}

// NewEvaluator creates a new path evaluator. m may be nil.
func NewEvaluator(slippageBps uint32, m *metrics.ScannerMetrics, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewScannerMetrics(prometheus.NewRegistry(), metrics.Namespace)
	}
	return &Evaluator{
		slippageBps: slippageBps,
		logger:      logger,
		metrics:     m,
	}
}

// FindCycles quotes every path of 2..maxHops distinct venues that starts and
// ends in startToken. Results are sorted by profit, best first; ties go to
// the path with fewer hops. Paths that cannot be quoted are skipped.
func (e *Evaluator) FindCycles(startToken common.Address, startAmount *big.Int, venues []dex.Venue, maxHops int) ([]*Opportunity, error) {
	if maxHops < MinHops || maxHops > MaxHops {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidHops, maxHops, MinHops, MaxHops)
	}
	if startAmount == nil || startAmount.Sign() <= 0 {
		return nil, fmt.Errorf("start amount must be positive: %w", dex.ErrInvalidAmount)
	}

	var (
		found []*Opportunity
		used  = make([]bool, len(venues))
		path  = make(quote.Path, 0, maxHops)
	)

	var walk func(token common.Address)
	walk = func(token common.Address) {
		for i, v := range venues {
			if used[i] {
				continue
			}
			next, err := v.OtherToken(token)
			if err != nil {
				continue
			}

			path = append(path, quote.Hop{Venue: v, TokenIn: token})
			used[i] = true

			switch {
			case next.Address == startToken:
				if opp := e.evaluate(path, startToken, startAmount); opp != nil {
					found = append(found, opp)
				}
			case len(path) < maxHops:
				walk(next.Address)
			}

			used[i] = false
			path = path[:len(path)-1]
		}
	}
	walk(startToken)

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if c := a.Profit.Cmp(b.Profit); c != 0 {
			return c > 0
		}
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		return a.Path.Key() < b.Path.Key()
	})

	return found, nil
}

func (e *Evaluator) evaluate(path quote.Path, startToken common.Address, startAmount *big.Int) *Opportunity {
	candidate := make(quote.Path, len(path))
	copy(candidate, path)

	e.metrics.PathsEvaluated.Inc()

	q, err := quote.QuotePath(candidate, startAmount, e.slippageBps)
	if err != nil {
		e.metrics.QuoteErrors.Inc()
		e.logger.Debug("Skipping path",
			zap.String("path", candidate.String()),
			zap.Error(err))
		return nil
	}

	var block uint64
	for _, hop := range candidate {
		if b := hop.Venue.Reserves().BlockNumber; b > block {
			block = b
		}
	}

	return &Opportunity{
		Path:         candidate,
		Quote:        q,
		StartToken:   startToken,
		StartAmount:  new(big.Int).Set(startAmount),
		OutputAmount: new(big.Int).Set(q.AmountOut),
		Profit:       new(big.Int).Sub(q.AmountOut, startAmount),
		BlockNumber:  block,
	}
}
