package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

const (
	// TxBaseGas is the intrinsic cost of a transaction
	TxBaseGas uint64 = 21000
	// HopGas approximates one V2 swap: storage reads, two token transfers
	// and the swap itself
	HopGas uint64 = 152000

	DefaultUpdateInterval = 12 * time.Second
)

var ErrNoFeeData = errors.New("no fee data")

// FeeSource reports the chain's current fee market. *ethclient.Client satisfies it.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator provides gas price estimation and tracking
type Estimator struct {
	source      FeeSource
	logger      *zap.Logger
	baseFee     *big.Int
	priorityFee *big.Int
	mu          sync.RWMutex
}

// NewEstimator creates a new gas estimator
func NewEstimator(source FeeSource, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		source: source,
		logger: logger,
	}
}

// Run refreshes fees every interval until ctx is done
func (e *Estimator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Update(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Failed to update gas prices", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Update fetches latest gas prices
func (e *Estimator) Update(ctx context.Context) error {
	if e.source == nil {
		return ErrNoFeeData
	}

	header, err := e.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee == nil {
		return fmt.Errorf("%w: block %s has no base fee", ErrNoFeeData, header.Number)
	}

	priorityFee, err := e.source.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	e.baseFee = new(big.Int).Set(header.BaseFee)
	e.priorityFee = new(big.Int).Set(priorityFee)
	e.mu.Unlock()
	return nil
}

// SetFees overrides the tracked fees
func (e *Estimator) SetFees(baseFee, priorityFee *big.Int) {
	e.mu.Lock()
	e.baseFee = umath.Clone(baseFee)
	e.priorityFee = umath.Clone(priorityFee)
	e.mu.Unlock()
}

// Fees returns the last observed base fee and tip
func (e *Estimator) Fees() (*big.Int, *big.Int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.baseFee == nil || e.priorityFee == nil {
		return nil, nil, false
	}
	return new(big.Int).Set(e.baseFee), new(big.Int).Set(e.priorityFee), true
}

// EstimateGasCost estimates the wei cost of gasLimit at the tracked fees,
// fetching them first if none were observed yet
func (e *Estimator) EstimateGasCost(ctx context.Context, gasLimit uint64) (*big.Int, error) {
	baseFee, priorityFee, ok := e.Fees()
	if !ok {
		if err := e.Update(ctx); err != nil {
			return nil, err
		}
		baseFee, priorityFee, _ = e.Fees()
	}

	price := new(big.Int).Add(baseFee, priorityFee)
	return price.Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}

// EstimateArbitrageGas estimates gas for a typical arbitrage transaction
func (e *Estimator) EstimateArbitrageGas(numHops int) uint64 {
	if numHops < 0 {
		numHops = 0
	}
	return TxBaseGas + HopGas*uint64(numHops)
}

// EstimateCost returns the wei cost of a path with numHops swaps
func (e *Estimator) EstimateCost(ctx context.Context, numHops int) (*big.Int, error) {
	return e.EstimateGasCost(ctx, e.EstimateArbitrageGas(numHops))
}

// PriorityPayment returns the share of netProfit paid to the block builder
func PriorityPayment(netProfit *big.Int, shareBps uint32) *big.Int {
	if netProfit == nil || netProfit.Sign() <= 0 {
		return new(big.Int)
	}
	return umath.MulBps(netProfit, shareBps)
}
