package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// DefaultFeeBps is the Uniswap V2 swap fee
const DefaultFeeBps uint32 = 30

var bpsBase = big.NewInt(umath.BpsDenominator)

// VenueParams describes a pool to construct
type VenueParams struct {
	ID       string
	Protocol string
	Address  common.Address
	Router   common.Address
	Token0   Token
	Token1   Token
	FeeBps   uint32
}

// ConstantProductVenue prices swaps with the x*y=k invariant
type ConstantProductVenue struct {
	id       string
	protocol string
	address  common.Address
	router   common.Address
	token0   Token
	token1   Token
	feeBps   uint32
	source   ReserveSource

	mu       sync.RWMutex
	reserves Reserves
}

// NewConstantProductVenue creates a new ConstantProductVenue. A nil source
// makes the venue static: RefreshReserves keeps the last set reserves.
func NewConstantProductVenue(p VenueParams, source ReserveSource) (*ConstantProductVenue, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("venue id is required")
	}
	if p.Token0.Address == p.Token1.Address {
		return nil, fmt.Errorf("venue %s: identical tokens %s", p.ID, p.Token0.Address.Hex())
	}
	if p.FeeBps == 0 {
		p.FeeBps = DefaultFeeBps
	}
	if p.FeeBps >= umath.BpsDenominator {
		return nil, fmt.Errorf("venue %s: fee %d bps out of range", p.ID, p.FeeBps)
	}

	return &ConstantProductVenue{
		id:       p.ID,
		protocol: p.Protocol,
		address:  p.Address,
		router:   p.Router,
		token0:   p.Token0,
		token1:   p.Token1,
		feeBps:   p.FeeBps,
		source:   source,
		reserves: Reserves{Reserve0: new(big.Int), Reserve1: new(big.Int)},
	}, nil
}

func (v *ConstantProductVenue) ID() string              { return v.id }
func (v *ConstantProductVenue) Kind() Kind              { return KindConstantProduct }
func (v *ConstantProductVenue) Address() common.Address { return v.address }
func (v *ConstantProductVenue) Protocol() string        { return v.protocol }
func (v *ConstantProductVenue) Tokens() (Token, Token)  { return v.token0, v.token1 }
func (v *ConstantProductVenue) FeeBps() uint32          { return v.feeBps }

// GetRouterAddress returns the router contract address
func (v *ConstantProductVenue) GetRouterAddress() common.Address {
	return v.router
}

// Reserves returns a copy of the current snapshot
func (v *ConstantProductVenue) Reserves() Reserves {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Reserves{
		Reserve0:    umath.Clone(v.reserves.Reserve0),
		Reserve1:    umath.Clone(v.reserves.Reserve1),
		BlockNumber: v.reserves.BlockNumber,
		Timestamp:   v.reserves.Timestamp,
	}
}

// SetReserves replaces both reserves at once
func (v *ConstantProductVenue) SetReserves(reserve0, reserve1 *big.Int, block uint64) error {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() < 0 || reserve1.Sign() < 0 {
		return fmt.Errorf("venue %s: %w: negative or missing reserve", v.id, ErrInvalidAmount)
	}
	v.mu.Lock()
	v.reserves = Reserves{
		Reserve0:    new(big.Int).Set(reserve0),
		Reserve1:    new(big.Int).Set(reserve1),
		BlockNumber: block,
	}
	v.mu.Unlock()
	return nil
}

// RefreshReserves re-reads both reserves from the source as one pair
func (v *ConstantProductVenue) RefreshReserves(ctx context.Context) error {
	if v.source == nil {
		return nil
	}

	r, err := v.source.FetchReserves(ctx, v.address)
	if err != nil {
		return fmt.Errorf("failed to refresh reserves of %s: %w", v.id, err)
	}
	if r == nil || r.Reserve0 == nil || r.Reserve1 == nil {
		return fmt.Errorf("failed to refresh reserves of %s: incomplete pair", v.id)
	}

	v.mu.Lock()
	v.reserves = Reserves{
		Reserve0:    new(big.Int).Set(r.Reserve0),
		Reserve1:    new(big.Int).Set(r.Reserve1),
		BlockNumber: r.BlockNumber,
		Timestamp:   r.Timestamp,
	}
	v.mu.Unlock()
	return nil
}

// IsStale reports whether the snapshot predates block
func (v *ConstantProductVenue) IsStale(block uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.reserves.BlockNumber < block
}

// OtherToken returns the counterpart of token in the pair
func (v *ConstantProductVenue) OtherToken(token common.Address) (Token, error) {
	switch token {
	case v.token0.Address:
		return v.token1, nil
	case v.token1.Address:
		return v.token0, nil
	default:
		return Token{}, fmt.Errorf("venue %s: %w: %s", v.id, ErrInvalidToken, token.Hex())
	}
}

// orient returns (reserveIn, reserveOut) for a swap selling tokenIn
func (v *ConstantProductVenue) orient(tokenIn common.Address) (*big.Int, *big.Int, error) {
	v.mu.RLock()
	r := v.reserves
	v.mu.RUnlock()

	var reserveIn, reserveOut *big.Int
	switch tokenIn {
	case v.token0.Address:
		reserveIn, reserveOut = r.Reserve0, r.Reserve1
	case v.token1.Address:
		reserveIn, reserveOut = r.Reserve1, r.Reserve0
	default:
		return nil, nil, fmt.Errorf("venue %s: %w: %s", v.id, ErrInvalidToken, tokenIn.Hex())
	}
	if r.Empty() {
		return nil, nil, fmt.Errorf("venue %s: %w", v.id, ErrEmptyPool)
	}
	return reserveIn, reserveOut, nil
}

// QuoteOutput calculates the output amount for a given input amount
func (v *ConstantProductVenue) QuoteOutput(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, fmt.Errorf("venue %s: %w", v.id, ErrInvalidAmount)
	}
	reserveIn, reserveOut, err := v.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	return GetAmountOut(amountIn, reserveIn, reserveOut, v.feeBps), nil
}

// QuoteInput calculates the input amount for a desired output amount
func (v *ConstantProductVenue) QuoteInput(tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, fmt.Errorf("venue %s: %w", v.id, ErrInvalidAmount)
	}
	tokenIn, err := v.OtherToken(tokenOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := v.orient(tokenIn.Address)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("venue %s: %w: want %s of %s, reserve %s",
			v.id, ErrInsufficientLiquidity, amountOut, tokenOut.Hex(), reserveOut)
	}
	return GetAmountIn(amountOut, reserveIn, reserveOut, v.feeBps), nil
}

// PriceImpact compares the spot price reserveOut/reserveIn with the
// realized price amountOut/amountIn and returns the percentage drop
func (v *ConstantProductVenue) PriceImpact(tokenIn common.Address, amountIn *big.Int) (float64, error) {
	_, impact, err := v.QuoteWithImpact(tokenIn, amountIn)
	return impact, err
}

// QuoteWithImpact returns the output and the price impact of one swap, both
// priced against the same reserve snapshot
func (v *ConstantProductVenue) QuoteWithImpact(tokenIn common.Address, amountIn *big.Int) (*big.Int, float64, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, 0, fmt.Errorf("venue %s: %w", v.id, ErrInvalidAmount)
	}
	reserveIn, reserveOut, err := v.orient(tokenIn)
	if err != nil {
		return nil, 0, err
	}

	amountOut := GetAmountOut(amountIn, reserveIn, reserveOut, v.feeBps)
	if amountIn.Sign() == 0 {
		return amountOut, 0, nil
	}
	spot := new(big.Rat).SetFrac(reserveOut, reserveIn)
	realized := new(big.Rat).SetFrac(amountOut, amountIn)
	return amountOut, umath.PercentDrop(spot, realized), nil
}

// GetAmountOut applies the fee to the input and prices the rest against the
// reserves, truncating once like the pair contract does
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(umath.BpsDenominator-feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, bpsBase), amountInWithFee)

	return numerator.Quo(numerator, denominator)
}

// GetAmountIn calculates the input amount for a given output amount.
// The +1 rounds the truncated quotient up in the trader's disfavor.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Cmp(amountOut) <= 0 {
		return big.NewInt(0)
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), bpsBase)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		big.NewInt(int64(umath.BpsDenominator-feeBps)),
	)

	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}
