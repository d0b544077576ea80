package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/executor"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

const (
	DefaultSubmittedCacheSize        = 1024
	paymentGasLimit           uint64 = 21_000
)

type submissionKey struct {
	hash  common.Hash
	block uint64
}

// Builder assembles, simulates and submits bundles
type Builder struct {
	signer    Signer
	relay     Relay
	blocks    BlockReader
	submitted *lru.Cache
	metrics   *metrics.BundleMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBuilder creates a new bundle builder. m may be nil.
func NewBuilder(signer Signer, relay Relay, blocks BlockReader, cacheSize int, m *metrics.BundleMetrics, logger *zap.Logger) (*Builder, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if blocks == nil {
		return nil, fmt.Errorf("block reader is required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultSubmittedCacheSize
	}
	submitted, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewBundleMetrics(prometheus.NewRegistry(), metrics.Namespace)
	}

	return &Builder{
		signer:    signer,
		relay:     relay,
		blocks:    blocks,
		submitted: submitted,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// BuildBundle flattens the plans' steps in order, signs them and appends
// the optional priority payment
func (b *Builder) BuildBundle(ctx context.Context, plans []*executor.Plan, targetBlock uint64, payment *PriorityPayment) (*Bundle, error) {
	var (
		calls []executor.Call
		ops   []Operation
	)
	for i, plan := range plans {
		planCalls, err := executor.PlanCalls(plan)
		if err != nil {
			return nil, fmt.Errorf("failed to build calls for plan %d: %w", i, err)
		}
		for j, call := range planCalls {
			calls = append(calls, call)
			ops = append(ops, Operation{Plan: i, Step: j})
		}
	}
	if len(calls) == 0 {
		return nil, ErrEmptyBundle
	}

	if payment != nil && payment.Amount != nil && payment.Amount.Sign() > 0 {
		calls = append(calls, executor.Call{
			To:       payment.To,
			Value:    payment.Amount,
			GasLimit: paymentGasLimit,
		})
		ops = append(ops, Operation{Plan: -1, Step: -1, Priority: true})
	}

	txs, err := b.signer.SignCalls(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("failed to sign bundle: %w", err)
	}
	if len(txs) != len(calls) {
		return nil, fmt.Errorf("signer returned %d transactions for %d calls", len(txs), len(calls))
	}

	hashes := make([]byte, 0, len(txs)*common.HashLength)
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		ops[i].Tx = tx
		ops[i].Raw = raw
		hashes = append(hashes, tx.Hash().Bytes()...)
	}

	bundle := &Bundle{
		Operations:  ops,
		TargetBlock: targetBlock,
		Hash:        crypto.Keccak256Hash(hashes),
		CreatedAt:   b.now(),
	}
	b.metrics.Built.Inc()

	b.logger.Debug("Built bundle",
		zap.String("hash", bundle.Hash.Hex()),
		zap.Int("operations", len(ops)),
		zap.Uint64("target_block", targetBlock))
	return bundle, nil
}

// Simulate runs the bundle on the relay and records the result on it. A
// relay failure is recorded as a rejection.
func (b *Builder) Simulate(ctx context.Context, bundle *Bundle) (*SimulationResult, error) {
	if bundle == nil || len(bundle.Operations) == 0 {
		return nil, ErrEmptyBundle
	}

	res, err := b.relay.SimulateBundle(ctx, bundle.RawTxs(), bundle.TargetBlock)
	switch {
	case err != nil:
		res = &SimulationResult{
			Accepted:    false,
			Reason:      fmt.Sprintf("simulation request failed: %v", err),
			FailedIndex: -1,
		}
	case res == nil:
		res = &SimulationResult{
			Accepted:    false,
			Reason:      "relay returned no simulation result",
			FailedIndex: -1,
		}
	}
	bundle.Simulation = res

	if res.Accepted {
		b.metrics.Accepted.Inc()
		b.metrics.GasUsed.Observe(float64(res.GasUsed))
	} else {
		b.metrics.Rejected.Inc()
		b.logger.Warn("Bundle simulation rejected",
			zap.String("hash", bundle.Hash.Hex()),
			zap.Int("failed_index", res.FailedIndex),
			zap.String("reason", res.Reason))
	}
	return res, nil
}

// Submit sends a simulated and accepted bundle to the relay. Relay and
// timing failures are reported in the result, not as errors.
func (b *Builder) Submit(ctx context.Context, bundle *Bundle) (*SubmitResult, error) {
	if bundle == nil || len(bundle.Operations) == 0 {
		return nil, ErrEmptyBundle
	}
	if bundle.Simulation == nil {
		return nil, ErrNotSimulated
	}
	if !bundle.Simulation.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrSimulationRejected, bundle.Simulation.Reason)
	}

	key := submissionKey{hash: bundle.Hash, block: bundle.TargetBlock}
	if cached, ok := b.submitted.Get(key); ok {
		prev := *cached.(*SubmitResult)
		prev.Duplicate = true
		return &prev, nil
	}

	result := &SubmitResult{
		BundleHash:  bundle.Hash,
		TargetBlock: bundle.TargetBlock,
	}

	current, err := b.blocks.BlockNumber(ctx)
	if err != nil {
		result.Err = fmt.Errorf("%w: failed to get block number: %v", ErrSubmissionFailed, err)
		b.metrics.SubmitFailed.Inc()
		return result, nil
	}
	if current >= bundle.TargetBlock {
		result.Err = fmt.Errorf("%w: target block %d already reached (current %d)", ErrSubmissionFailed, bundle.TargetBlock, current)
		b.metrics.SubmitFailed.Inc()
		return result, nil
	}

	relayHash, err := b.relay.SendBundle(ctx, bundle.RawTxs(), bundle.TargetBlock)
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
		b.metrics.SubmitFailed.Inc()
		b.logger.Warn("Bundle submission failed",
			zap.String("hash", bundle.Hash.Hex()),
			zap.Uint64("target_block", bundle.TargetBlock),
			zap.Error(err))
		return result, nil
	}

	result.Submitted = true
	result.RelayHash = relayHash
	b.submitted.Add(key, result)
	b.metrics.Submitted.Inc()

	b.logger.Info("Submitted bundle",
		zap.String("hash", bundle.Hash.Hex()),
		zap.String("relay_hash", relayHash),
		zap.Uint64("target_block", bundle.TargetBlock))

	copied := *result
	return &copied, nil
}
