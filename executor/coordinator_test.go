package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/quote"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

var (
	tokenA = dex.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"), Decimals: 18, Symbol: "A"}
	tokenB = dex.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000bb"), Decimals: 18, Symbol: "B"}
	tokenC = dex.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), Decimals: 18, Symbol: "C"}

	routerAB = common.HexToAddress("0x0000000000000000000000000000000000000a0b")
	routerBC = common.HexToAddress("0x0000000000000000000000000000000000000b0c")
	routerCA = common.HexToAddress("0x0000000000000000000000000000000000000c0a")

	sender = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type allowanceKey struct{ token, spender common.Address }

// fakeChain settles swaps against the venue behind each router
type fakeChain struct {
	mu         sync.Mutex
	block      uint64
	allowances map[allowanceKey]*big.Int
	balances   map[common.Address]*big.Int
	venues     map[common.Address]dex.Venue
	submitted  []Call
	// afterSubmit runs after the n-th submission settles
	afterSubmit func(n int)
	revert      bool
}

func newFakeChain(venues ...*dex.ConstantProductVenue) *fakeChain {
	c := &fakeChain{
		block:      1,
		allowances: make(map[allowanceKey]*big.Int),
		balances:   map[common.Address]*big.Int{tokenA.Address: big.NewInt(1_000)},
		venues:     make(map[common.Address]dex.Venue),
	}
	for _, v := range venues {
		c.venues[v.GetRouterAddress()] = v
	}
	return c
}

func (c *fakeChain) approveAll() {
	for router, v := range c.venues {
		t0, t1 := v.Tokens()
		c.allowances[allowanceKey{t0.Address, router}] = big.NewInt(1e18)
		c.allowances[allowanceKey{t1.Address, router}] = big.NewInt(1e18)
	}
}

func (c *fakeChain) Sender() common.Address { return sender }

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.block, nil
}

func (c *fakeChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.allowances[allowanceKey{token, spender}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) Submit(ctx context.Context, call Call) (*Receipt, error) {
	c.mu.Lock()
	c.submitted = append(c.submitted, call)
	n := len(c.submitted)
	hash := common.BytesToHash(crypto.Keccak256(call.To.Bytes(), call.Data))

	if c.revert {
		c.mu.Unlock()
		return &Receipt{TxHash: hash, Success: false, GasUsed: 30_000}, nil
	}

	if venue, ok := c.venues[call.To]; ok {
		params, err := DecodeSwap(call.Data)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		out, err := venue.QuoteOutput(params.TokenIn, params.AmountIn)
		if err != nil || out.Cmp(params.AmountOutMin) < 0 {
			c.mu.Unlock()
			return &Receipt{TxHash: hash, Success: false}, nil
		}
		c.add(params.TokenIn, new(big.Int).Neg(params.AmountIn))
		c.add(params.TokenOut, out)
	}
	c.mu.Unlock()

	if c.afterSubmit != nil {
		c.afterSubmit(n)
	}
	return &Receipt{TxHash: hash, Success: true, GasUsed: 120_000, BlockNumber: c.block}, nil
}

func (c *fakeChain) add(token common.Address, delta *big.Int) {
	b, ok := c.balances[token]
	if !ok {
		b = new(big.Int)
		c.balances[token] = b
	}
	b.Add(b, delta)
}

func newRoutedVenue(t *testing.T, id string, router common.Address, t0, t1 dex.Token, r0, r1 int64) *dex.ConstantProductVenue {
	t.Helper()
	return testutils.NewVenue(t, dex.VenueParams{ID: id, Router: router, Token0: t0, Token1: t1}, r0, r1, 1)
}

func triangle(t *testing.T) (*arbitrage.Opportunity, []*dex.ConstantProductVenue) {
	ab := newRoutedVenue(t, "ab", routerAB, tokenA, tokenB, 1_000_000, 2_000_000_000)
	bc := newRoutedVenue(t, "bc", routerBC, tokenB, tokenC, 2_000_000_000, 3_000_000)
	ca := newRoutedVenue(t, "ca", routerCA, tokenC, tokenA, 3_000_000, 1_100_000)

	path := quote.Path{
		{Venue: ab, TokenIn: tokenA.Address},
		{Venue: bc, TokenIn: tokenB.Address},
		{Venue: ca, TokenIn: tokenC.Address},
	}
	q, err := quote.QuotePath(path, big.NewInt(1_000), 50)
	require.NoError(t, err)

	opp := &arbitrage.Opportunity{
		Path:         path,
		Quote:        q,
		StartToken:   tokenA.Address,
		StartAmount:  big.NewInt(1_000),
		OutputAmount: q.AmountOut,
		Profit:       new(big.Int).Sub(q.AmountOut, big.NewInt(1_000)),
		BlockNumber:  1,
	}
	return opp, []*dex.ConstantProductVenue{ab, bc, ca}
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, chain Chain, cfg Config, m *metrics.ExecutionMetrics) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(chain, cfg, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestBuildPlan(t *testing.T) {
	opp, venues := triangle(t)

	t.Run("approves every router", func(t *testing.T) {
		chain := newFakeChain(venues...)
		c := newTestCoordinator(t, chain, Config{}, nil)

		plan, err := c.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)
		require.Len(t, plan.Steps, 6)
		assert.Equal(t, fixedNow.Add(DefaultDeadline), plan.Deadline)
		assert.Equal(t, sender, plan.Sender)
		assert.Len(t, plan.Outcomes, 6)
		assert.Equal(t, 3, plan.Swaps())

		routers := []common.Address{routerAB, routerBC, routerCA}
		assumed := big.NewInt(1_000)
		for hop := 0; hop < 3; hop++ {
			approve, swap := plan.Steps[2*hop], plan.Steps[2*hop+1]
			assert.Equal(t, StepApprove, approve.Kind)
			assert.Equal(t, routers[hop], approve.Spender)
			assert.Equal(t, assumed.String(), approve.Amount.String())

			assert.Equal(t, StepSwap, swap.Kind)
			assert.Equal(t, routers[hop], swap.Router)
			assert.Equal(t, assumed.String(), swap.AmountIn.String())
			assert.Equal(t, sender, swap.Recipient)

			out, err := venues[hop].QuoteOutput(swap.TokenIn, assumed)
			require.NoError(t, err)
			assert.Equal(t, quote.MinOutput(out, 50).String(), swap.MinAmountOut.String())
			assumed = swap.MinAmountOut
		}
	})

	t.Run("skips sufficient allowances", func(t *testing.T) {
		chain := newFakeChain(venues...)
		chain.approveAll()
		c := newTestCoordinator(t, chain, Config{}, nil)

		plan, err := c.BuildPlan(context.Background(), opp, 0, fixedNow.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, plan.Steps, 3)
		for _, step := range plan.Steps {
			assert.Equal(t, StepSwap, step.Kind)
			assert.Equal(t, fixedNow.Add(time.Minute), step.Deadline)
		}
	})

	t.Run("requires a router", func(t *testing.T) {
		bare, err := dex.NewConstantProductVenue(dex.VenueParams{ID: "bare", Token0: tokenA, Token1: tokenB}, nil)
		require.NoError(t, err)
		require.NoError(t, bare.SetReserves(big.NewInt(1_000_000), big.NewInt(1_000_000), 1))

		broken := *opp
		broken.Path = quote.Path{{Venue: bare, TokenIn: tokenA.Address}, opp.Path[1], opp.Path[2]}

		c := newTestCoordinator(t, newFakeChain(venues...), Config{}, nil)
		_, err = c.BuildPlan(context.Background(), &broken, 50, time.Time{})
		assert.ErrorIs(t, err, ErrNoRouter)
	})

	t.Run("empty", func(t *testing.T) {
		c := newTestCoordinator(t, newFakeChain(venues...), Config{}, nil)
		_, err := c.BuildPlan(context.Background(), &arbitrage.Opportunity{}, 50, time.Time{})
		assert.ErrorIs(t, err, ErrEmptyPlan)
	})
}

func TestExecute(t *testing.T) {
	t.Run("all steps succeed", func(t *testing.T) {
		opp, venues := triangle(t)
		chain := newFakeChain(venues...)
		m := metrics.NewExecutionMetrics(prometheus.NewRegistry(), "test")
		c := newTestCoordinator(t, chain, Config{}, m)

		plan, err := c.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)

		result, err := c.Execute(context.Background(), plan)
		require.NoError(t, err)
		assert.True(t, result.Succeeded())
		assert.Equal(t, -1, result.FailedStep)
		assert.Len(t, chain.submitted, 6)

		for i, outcome := range result.Outcomes {
			assert.Equal(t, StatusSucceeded, outcome.Status, "step %d", i)
			assert.NotEqual(t, common.Hash{}, outcome.TxHash)
		}

		// each hop sells only its assumed input, so some B and C stay behind
		assert.Equal(t, "75", result.BalanceChanges[tokenA.Address].String())
		assert.Equal(t, "9961", result.BalanceChanges[tokenB.Address].String())
		assert.Equal(t, "15", result.BalanceChanges[tokenC.Address].String())
		assert.Equal(t, 3.0, testutil.ToFloat64(m.Steps.WithLabelValues("swap", "succeeded")))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.Steps.WithLabelValues("approve", "succeeded")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Plans))
	})

	t.Run("partial failure keeps the breakdown", func(t *testing.T) {
		opp, venues := triangle(t)
		chain := newFakeChain(venues...)
		chain.approveAll()

		// a competing trade drains C from bc after the first swap lands
		chain.afterSubmit = func(n int) {
			if n == 1 {
				require.NoError(t, venues[1].SetReserves(big.NewInt(2_000_000_000), big.NewInt(2_000_000), 2))
			}
		}

		m := metrics.NewExecutionMetrics(prometheus.NewRegistry(), "test")
		c := newTestCoordinator(t, chain, Config{}, m)

		plan, err := c.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)
		require.Len(t, plan.Steps, 3)

		result, err := c.Execute(context.Background(), plan)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSlippageExceeded)
		assert.ErrorIs(t, result.Err, ErrSlippageExceeded)
		assert.False(t, result.Succeeded())
		assert.Equal(t, 1, result.FailedStep)

		require.Len(t, result.Outcomes, 3)
		assert.Equal(t, StatusSucceeded, result.Outcomes[0].Status)
		assert.Equal(t, StatusFailed, result.Outcomes[1].Status)
		assert.ErrorIs(t, result.Outcomes[1].Err, ErrSlippageExceeded)
		assert.Equal(t, StatusNotAttempted, result.Outcomes[2].Status)
		assert.Equal(t, plan.Outcomes, result.Outcomes)

		// only the first swap was sent
		assert.Len(t, chain.submitted, 1)
		assert.Equal(t, "-1000", result.BalanceChanges[tokenA.Address].String())
		assert.Equal(t, "1992013", result.BalanceChanges[tokenB.Address].String())
		assert.Equal(t, []BalanceChange{
			{Token: tokenA.Address, Delta: big.NewInt(-1_000)},
			{Token: tokenB.Address, Delta: big.NewInt(1_992_013)},
		}, result.Outcomes[0].BalanceChanges)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("slippage")))
	})

	t.Run("deadline expired", func(t *testing.T) {
		opp, venues := triangle(t)
		chain := newFakeChain(venues...)
		c := newTestCoordinator(t, chain, Config{}, nil)

		plan, err := c.BuildPlan(context.Background(), opp, 50, fixedNow.Add(-time.Second))
		require.NoError(t, err)

		result, err := c.Execute(context.Background(), plan)
		assert.ErrorIs(t, err, ErrDeadlineExpired)
		assert.Equal(t, 0, result.FailedStep)
		for _, outcome := range result.Outcomes[1:] {
			assert.Equal(t, StatusNotAttempted, outcome.Status)
		}
		assert.Empty(t, chain.submitted)
	})

	t.Run("revert", func(t *testing.T) {
		opp, venues := triangle(t)
		chain := newFakeChain(venues...)
		chain.revert = true
		c := newTestCoordinator(t, chain, Config{}, nil)

		plan, err := c.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)

		result, err := c.Execute(context.Background(), plan)
		assert.True(t, errors.Is(err, ErrReverted))
		assert.Equal(t, 0, result.FailedStep)
		assert.NotEqual(t, common.Hash{}, result.Outcomes[0].TxHash)
	})

	t.Run("stale reserves", func(t *testing.T) {
		opp, venues := triangle(t)
		chain := newFakeChain(venues...)
		chain.approveAll()
		chain.block = 5

		lenient := newTestCoordinator(t, chain, Config{}, nil)
		plan, err := lenient.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)
		_, err = lenient.Execute(context.Background(), plan)
		require.NoError(t, err)

		opp, venues = triangle(t)
		chain = newFakeChain(venues...)
		chain.approveAll()
		chain.block = 5

		strict := newTestCoordinator(t, chain, Config{StrictStaleness: true}, nil)
		plan, err = strict.BuildPlan(context.Background(), opp, 50, time.Time{})
		require.NoError(t, err)
		result, err := strict.Execute(context.Background(), plan)
		assert.ErrorIs(t, err, dex.ErrStaleReserves)
		assert.Equal(t, 0, result.FailedStep)
		assert.Empty(t, chain.submitted)
	})

	t.Run("empty plan", func(t *testing.T) {
		c := newTestCoordinator(t, newFakeChain(), Config{}, nil)
		_, err := c.Execute(context.Background(), &Plan{})
		assert.ErrorIs(t, err, ErrEmptyPlan)
	})
}

func TestSwapCalldata(t *testing.T) {
	deadline := big.NewInt(fixedNow.Unix())
	data, err := EncodeSwap(&SwapParams{
		TokenIn:      tokenA.Address,
		TokenOut:     tokenB.Address,
		AmountIn:     big.NewInt(1_000),
		AmountOutMin: big.NewInt(1_982_052),
		To:           sender,
		Deadline:     deadline,
	})
	require.NoError(t, err)

	params, err := DecodeSwap(data)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenA.Address, tokenB.Address}, params.Path)
	assert.Equal(t, tokenB.Address, params.TokenOut)
	assert.Equal(t, "1982052", params.AmountOutMin.String())
	assert.Equal(t, sender, params.To)
	assert.Equal(t, deadline.String(), params.Deadline.String())

	approve, err := EncodeApprove(routerAB, big.NewInt(1))
	require.NoError(t, err)
	_, err = DecodeSwap(approve)
	assert.Error(t, err)

	_, err = DecodeSwap([]byte{0x01})
	assert.Error(t, err)
}
