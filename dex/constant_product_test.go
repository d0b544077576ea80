package dex

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = Token{Address: common.HexToAddress("0x000000000000000000000000000000000000000a"), Decimals: 18, Symbol: "A"}
	tokenB = Token{Address: common.HexToAddress("0x000000000000000000000000000000000000000b"), Decimals: 6, Symbol: "B"}
	tokenC = Token{Address: common.HexToAddress("0x000000000000000000000000000000000000000c"), Decimals: 18, Symbol: "C"}
)

type stubSource struct {
	reserves *Reserves
	err      error
	calls    int
}

func (s *stubSource) FetchReserves(ctx context.Context, pool common.Address) (*Reserves, error) {
	s.calls++
	return s.reserves, s.err
}

func newTestVenue(t *testing.T, reserveA, reserveB int64) *ConstantProductVenue {
	t.Helper()
	v, err := NewConstantProductVenue(VenueParams{ID: "test", Token0: tokenA, Token1: tokenB}, nil)
	require.NoError(t, err)
	require.NoError(t, v.SetReserves(big.NewInt(reserveA), big.NewInt(reserveB), 1))
	return v
}

func TestQuoteOutput(t *testing.T) {
	v := newTestVenue(t, 1_000_000, 2_000_000_000)
	require.Equal(t, uint32(30), v.FeeBps())

	out, err := v.QuoteOutput(tokenA.Address, big.NewInt(1_000))
	require.NoError(t, err)

	assert.Equal(t, "1992013", out.String())
	assert.True(t, out.Cmp(big.NewInt(2_000_000)) < 0, "output must be below the no-fee price")

	in, err := v.QuoteInput(tokenB.Address, out)
	require.NoError(t, err)
	assert.True(t, in.Cmp(big.NewInt(1_000)) >= 0, "round trip returned %s", in)
}

func TestQuoteOutputMonotonic(t *testing.T) {
	v := newTestVenue(t, 1_000_000, 2_000_000_000)
	reserves := v.Reserves()

	prev := big.NewInt(0)
	for x := int64(1); x <= 5_000; x++ {
		amountIn := big.NewInt(x)
		out, err := v.QuoteOutput(tokenA.Address, amountIn)
		require.NoError(t, err)

		assert.True(t, out.Cmp(prev) > 0, "not increasing at %d", x)
		noFee := new(big.Int).Mul(amountIn, reserves.Reserve1)
		noFee.Quo(noFee, reserves.Reserve0)
		assert.True(t, out.Cmp(noFee) < 0, "not discounted at %d", x)
		prev = out
	}
}

func TestRoundTrip(t *testing.T) {
	venues := map[string]*ConstantProductVenue{
		"example": newTestVenue(t, 1_000_000, 2_000_000_000),
		"deep":    newTestVenue(t, 50_000_000, 90_000_000_000),
	}

	for name, v := range venues {
		t.Run(name, func(t *testing.T) {
			for x := int64(1); x <= 20_000; x += 7 {
				out, err := v.QuoteOutput(tokenA.Address, big.NewInt(x))
				require.NoError(t, err)
				in, err := v.QuoteInput(tokenB.Address, out)
				require.NoError(t, err)
				require.True(t, in.Cmp(big.NewInt(x)) >= 0, "x=%d out=%s in=%s", x, out, in)
			}
		})
	}
}

func TestQuoteErrors(t *testing.T) {
	v := newTestVenue(t, 1_000_000, 2_000_000_000)

	t.Run("InvalidToken", func(t *testing.T) {
		_, err := v.QuoteOutput(tokenC.Address, big.NewInt(1))
		assert.True(t, errors.Is(err, ErrInvalidToken))

		_, err = v.QuoteInput(tokenC.Address, big.NewInt(1))
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("InsufficientLiquidity", func(t *testing.T) {
		_, err := v.QuoteInput(tokenB.Address, big.NewInt(2_000_000_000))
		assert.True(t, errors.Is(err, ErrInsufficientLiquidity))

		_, err = v.QuoteInput(tokenB.Address, big.NewInt(1_999_999_999))
		assert.NoError(t, err)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		_, err := v.QuoteOutput(tokenA.Address, big.NewInt(-1))
		assert.True(t, errors.Is(err, ErrInvalidAmount))
		_, err = v.QuoteOutput(tokenA.Address, nil)
		assert.True(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("EmptyPool", func(t *testing.T) {
		empty := newTestVenue(t, 0, 2_000_000_000)
		_, err := empty.QuoteOutput(tokenA.Address, big.NewInt(1_000))
		assert.True(t, errors.Is(err, ErrEmptyPool))

		// an empty output side is unusable too
		empty = newTestVenue(t, 1_000_000, 0)
		_, err = empty.QuoteOutput(tokenA.Address, big.NewInt(1_000))
		assert.True(t, errors.Is(err, ErrEmptyPool))
	})
}

func TestPriceImpact(t *testing.T) {
	v := newTestVenue(t, 1_000_000, 2_000_000_000)

	small, err := v.PriceImpact(tokenA.Address, big.NewInt(1_000))
	require.NoError(t, err)
	assert.InDelta(t, 0.39935, small, 1e-6)

	large, err := v.PriceImpact(tokenA.Address, big.NewInt(100_000))
	require.NoError(t, err)
	assert.Greater(t, large, small)

	zero, err := v.PriceImpact(tokenA.Address, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)
}

func TestQuoteWithImpact(t *testing.T) {
	v := newTestVenue(t, 1_000_000, 2_000_000_000)
	amount := big.NewInt(1_000)

	out, impact, err := v.QuoteWithImpact(tokenA.Address, amount)
	require.NoError(t, err)
	quoted, err := v.QuoteOutput(tokenA.Address, amount)
	require.NoError(t, err)
	assert.Equal(t, quoted.String(), out.String())
	assert.InDelta(t, 0.39935, impact, 1e-6)

	_, _, err = v.QuoteWithImpact(tokenC.Address, amount)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	t.Run("one snapshot under concurrent refresh", func(t *testing.T) {
		states := [][2]int64{{1_000_000, 2_000_000_000}, {4_000_000, 2_000_000_000}}
		expected := make(map[string]float64)
		for _, r := range states {
			ref := newTestVenue(t, r[0], r[1])
			out, impact, err := ref.QuoteWithImpact(tokenA.Address, amount)
			require.NoError(t, err)
			expected[out.String()] = impact
		}
		require.Len(t, expected, 2)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 2_000; i++ {
				r := states[i%2]
				_ = v.SetReserves(big.NewInt(r[0]), big.NewInt(r[1]), uint64(i))
			}
		}()

		for i := 0; i < 2_000; i++ {
			out, impact, err := v.QuoteWithImpact(tokenA.Address, amount)
			require.NoError(t, err)
			want, ok := expected[out.String()]
			require.True(t, ok, "unexpected output %s", out)
			require.Equal(t, want, impact)
		}
		<-done
	})
}

func TestRefreshReserves(t *testing.T) {
	src := &stubSource{reserves: &Reserves{Reserve0: big.NewInt(10), Reserve1: big.NewInt(20), BlockNumber: 42}}
	v, err := NewConstantProductVenue(VenueParams{ID: "pool", Token0: tokenA, Token1: tokenB}, src)
	require.NoError(t, err)

	assert.True(t, v.IsStale(1))
	require.NoError(t, v.RefreshReserves(context.Background()))
	assert.Equal(t, 1, src.calls)

	r := v.Reserves()
	assert.Equal(t, int64(10), r.Reserve0.Int64())
	assert.Equal(t, int64(20), r.Reserve1.Int64())
	assert.False(t, v.IsStale(42))
	assert.True(t, v.IsStale(43))

	// the snapshot is a copy
	r.Reserve0.SetInt64(0)
	assert.Equal(t, int64(10), v.Reserves().Reserve0.Int64())

	t.Run("SourceError", func(t *testing.T) {
		src.err = errors.New("rpc down")
		err := v.RefreshReserves(context.Background())
		assert.Error(t, err)
		// previous pair is kept
		assert.Equal(t, int64(10), v.Reserves().Reserve0.Int64())
	})
}

func TestNewConstantProductVenue(t *testing.T) {
	_, err := NewConstantProductVenue(VenueParams{ID: "x", Token0: tokenA, Token1: tokenA}, nil)
	assert.Error(t, err)

	_, err = NewConstantProductVenue(VenueParams{ID: "x", Token0: tokenA, Token1: tokenB, FeeBps: 10_000}, nil)
	assert.Error(t, err)

	v, err := NewConstantProductVenue(VenueParams{ID: "x", Token0: tokenA, Token1: tokenB, FeeBps: 25}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindConstantProduct, v.Kind())
	assert.Equal(t, uint32(25), v.FeeBps())

	other, err := v.OtherToken(tokenB.Address)
	require.NoError(t, err)
	assert.Equal(t, tokenA, other)
}
