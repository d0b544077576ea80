package bundle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/executor"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

var (
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	router   = common.HexToAddress("0x0000000000000000000000000000000000000a0b")
	coinbase = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type keySigner struct {
	key   *ecdsa.PrivateKey
	nonce uint64
}

func (s *keySigner) SignCalls(ctx context.Context, calls []executor.Call) ([]*types.Transaction, error) {
	signer := types.LatestSignerForChainID(big.NewInt(1))
	txs := make([]*types.Transaction, 0, len(calls))
	for i, call := range calls {
		to := call.To
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		tx, err := types.SignNewTx(s.key, signer, &types.DynamicFeeTx{
			ChainID:   big.NewInt(1),
			Nonce:     s.nonce + uint64(i),
			To:        &to,
			Gas:       200_000,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
			Value:     value,
			Data:      call.Data,
		})
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type fakeRelay struct {
	sim      *SimulationResult
	simErr   error
	sendErr  error
	simCalls int
	sent     [][][]byte
}

func (r *fakeRelay) SimulateBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (*SimulationResult, error) {
	r.simCalls++
	if r.simErr != nil {
		return nil, r.simErr
	}
	if r.sim == nil {
		return nil, nil
	}
	res := *r.sim
	return &res, nil
}

func (r *fakeRelay) SendBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (string, error) {
	if r.sendErr != nil {
		return "", r.sendErr
	}
	r.sent = append(r.sent, txs)
	return "0xrelay", nil
}

type fixedBlock uint64

func (b fixedBlock) BlockNumber(ctx context.Context) (uint64, error) {
	return uint64(b), nil
}

func testPlans() []*executor.Plan {
	deadline := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	swap := func(in, out common.Address) executor.Step {
		return executor.Step{
			Kind:         executor.StepSwap,
			Router:       router,
			TokenIn:      in,
			TokenOut:     out,
			AmountIn:     big.NewInt(1_000),
			MinAmountOut: big.NewInt(990),
			Recipient:    coinbase,
			Deadline:     deadline,
		}
	}
	return []*executor.Plan{
		{Steps: []executor.Step{
			{Kind: executor.StepApprove, Token: tokenA, Spender: router, Amount: big.NewInt(1_000)},
			swap(tokenA, tokenB),
		}},
		{Steps: []executor.Step{swap(tokenB, tokenA)}},
	}
}

func newTestBuilder(t *testing.T, relay Relay, block uint64) (*Builder, *metrics.BundleMetrics) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	m := metrics.NewBundleMetrics(prometheus.NewRegistry(), "test")
	b, err := NewBuilder(&keySigner{key: key, nonce: 3}, relay, fixedBlock(block), 16, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b, m
}

func TestBuildBundle(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBuilder(t, &fakeRelay{}, 10)

	bundle, err := b.BuildBundle(ctx, testPlans(), 11, &PriorityPayment{To: coinbase, Amount: big.NewInt(5_000)})
	require.NoError(t, err)
	require.Len(t, bundle.Operations, 4)
	assert.Equal(t, uint64(11), bundle.TargetBlock)
	assert.Nil(t, bundle.Simulation)

	var hashes []byte
	for i, op := range bundle.Operations {
		assert.Equal(t, uint64(3+i), op.Tx.Nonce())
		assert.NotEmpty(t, op.Raw)
		hashes = append(hashes, op.Tx.Hash().Bytes()...)
	}
	assert.Equal(t, crypto.Keccak256Hash(hashes), bundle.Hash)

	assert.Equal(t, 0, bundle.Operations[0].Plan)
	assert.Equal(t, 1, bundle.Operations[1].Step)
	assert.Equal(t, 1, bundle.Operations[2].Plan)
	assert.Equal(t, 0, bundle.Operations[2].Step)

	last := bundle.Operations[3]
	assert.True(t, last.Priority)
	assert.Equal(t, coinbase, *last.Tx.To())
	assert.Equal(t, "5000", last.Tx.Value().String())
	assert.Empty(t, last.Tx.Data())

	// the swap calldata survives signing
	params, err := executor.DecodeSwap(bundle.Operations[1].Tx.Data())
	require.NoError(t, err)
	assert.Equal(t, tokenA, params.TokenIn)
	assert.Equal(t, "990", params.AmountOutMin.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Built))

	t.Run("without payment", func(t *testing.T) {
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)
		assert.Len(t, bundle.Operations, 3)
		assert.False(t, bundle.Operations[2].Priority)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := b.BuildBundle(ctx, nil, 11, &PriorityPayment{To: coinbase, Amount: big.NewInt(1)})
		assert.ErrorIs(t, err, ErrEmptyBundle)
	})
}

func TestSimulate(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		relay := &fakeRelay{sim: &SimulationResult{Accepted: true, GasUsed: 250_000, FailedIndex: -1}}
		b, m := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)

		res, err := b.Simulate(ctx, bundle)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Same(t, res, bundle.Simulation)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Accepted))
	})

	t.Run("operation failure", func(t *testing.T) {
		relay := &fakeRelay{sim: &SimulationResult{Accepted: false, FailedIndex: 1, Reason: "execution reverted"}}
		b, m := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)

		res, err := b.Simulate(ctx, bundle)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, 1, res.FailedIndex)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected))

		_, err = b.Submit(ctx, bundle)
		assert.ErrorIs(t, err, ErrSimulationRejected)
		assert.Empty(t, relay.sent)
	})

	t.Run("transport failure", func(t *testing.T) {
		relay := &fakeRelay{simErr: errors.New("connection refused")}
		b, _ := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)

		res, err := b.Simulate(ctx, bundle)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, -1, res.FailedIndex)
		assert.Contains(t, res.Reason, "connection refused")
	})

	t.Run("missing result", func(t *testing.T) {
		relay := &fakeRelay{}
		b, m := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)

		res, err := b.Simulate(ctx, bundle)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, -1, res.FailedIndex)
		assert.Same(t, res, bundle.Simulation)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected))

		_, err = b.Submit(ctx, bundle)
		assert.ErrorIs(t, err, ErrSimulationRejected)
		assert.Empty(t, relay.sent)
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	accepted := &SimulationResult{Accepted: true, FailedIndex: -1}

	t.Run("requires simulation", func(t *testing.T) {
		b, _ := newTestBuilder(t, &fakeRelay{sim: accepted}, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)

		_, err = b.Submit(ctx, bundle)
		assert.ErrorIs(t, err, ErrNotSimulated)
	})

	t.Run("deduplicates", func(t *testing.T) {
		relay := &fakeRelay{sim: accepted}
		b, m := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)
		_, err = b.Simulate(ctx, bundle)
		require.NoError(t, err)

		first, err := b.Submit(ctx, bundle)
		require.NoError(t, err)
		assert.True(t, first.Submitted)
		assert.False(t, first.Duplicate)
		assert.Equal(t, "0xrelay", first.RelayHash)
		assert.Equal(t, bundle.Hash, first.BundleHash)

		second, err := b.Submit(ctx, bundle)
		require.NoError(t, err)
		assert.True(t, second.Submitted)
		assert.True(t, second.Duplicate)

		assert.Len(t, relay.sent, 1)
		assert.Equal(t, bundle.RawTxs(), relay.sent[0])
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Submitted))
	})

	t.Run("target block passed", func(t *testing.T) {
		relay := &fakeRelay{sim: accepted}
		b, m := newTestBuilder(t, relay, 11)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)
		_, err = b.Simulate(ctx, bundle)
		require.NoError(t, err)

		res, err := b.Submit(ctx, bundle)
		require.NoError(t, err)
		assert.False(t, res.Submitted)
		assert.ErrorIs(t, res.Err, ErrSubmissionFailed)
		assert.Empty(t, relay.sent)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmitFailed))

		bundle.Retarget(12)
		assert.Nil(t, bundle.Simulation)
		_, err = b.Submit(ctx, bundle)
		assert.ErrorIs(t, err, ErrNotSimulated)

		_, err = b.Simulate(ctx, bundle)
		require.NoError(t, err)
		res, err = b.Submit(ctx, bundle)
		require.NoError(t, err)
		assert.True(t, res.Submitted)
		assert.Equal(t, uint64(12), res.TargetBlock)
	})

	t.Run("relay failure", func(t *testing.T) {
		relay := &fakeRelay{sim: accepted, sendErr: errors.New("bundle rejected")}
		b, _ := newTestBuilder(t, relay, 10)
		bundle, err := b.BuildBundle(ctx, testPlans(), 11, nil)
		require.NoError(t, err)
		_, err = b.Simulate(ctx, bundle)
		require.NoError(t, err)

		res, err := b.Submit(ctx, bundle)
		require.NoError(t, err)
		assert.False(t, res.Submitted)
		assert.ErrorIs(t, res.Err, ErrSubmissionFailed)
		assert.Contains(t, res.Err.Error(), "bundle rejected")
	})
}
