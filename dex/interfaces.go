package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the pricing model behind a Venue
type Kind int

const (
	// KindConstantProduct is an x*y=k pool (Uniswap V2 and forks)
	KindConstantProduct Kind = iota
	// KindConcentratedLiquidity is reserved for tick-based pools
	KindConcentratedLiquidity
)

func (k Kind) String() string {
	switch k {
	case KindConstantProduct:
		return "constant_product"
	case KindConcentratedLiquidity:
		return "concentrated_liquidity"
	default:
		return "unknown"
	}
}

// Venue represents a single AMM pool
type Venue interface {
	// ID returns the registry identifier
	ID() string

	// Kind returns the pricing model, fixed at construction
	Kind() Kind

	// Address returns the pool contract address
	Address() common.Address

	// Tokens returns the pair in pool order
	Tokens() (Token, Token)

	// FeeBps returns the swap fee in basis points
	FeeBps() uint32

	// Reserves returns the current reserve snapshot
	Reserves() Reserves

	// OtherToken returns the counterpart of token in the pair
	OtherToken(token common.Address) (Token, error)

	// QuoteOutput calculates the output for an exact input
	QuoteOutput(tokenIn common.Address, amountIn *big.Int) (*big.Int, error)

	// QuoteInput calculates the input required for an exact output
	QuoteInput(tokenOut common.Address, amountOut *big.Int) (*big.Int, error)

	// PriceImpact returns the percent drop of the realized price against the spot price
	PriceImpact(tokenIn common.Address, amountIn *big.Int) (float64, error)

	// QuoteWithImpact returns QuoteOutput and PriceImpact from one reserve snapshot
	QuoteWithImpact(tokenIn common.Address, amountIn *big.Int) (*big.Int, float64, error)

	// RefreshReserves re-reads both reserves as one pair
	RefreshReserves(ctx context.Context) error

	// IsStale reports whether the snapshot is older than block
	IsStale(block uint64) bool
}

// RouterProvider defines an interface for venues swapped through a router contract
type RouterProvider interface {
	GetRouterAddress() common.Address
}

// ReserveSource reads a pool's reserves from the chain
type ReserveSource interface {
	FetchReserves(ctx context.Context, pool common.Address) (*Reserves, error)
}

// Reserves represents token pair reserves observed at one block
type Reserves struct {
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	Timestamp   uint32
}

// Empty reports whether either side is zero or missing
func (r Reserves) Empty() bool {
	return r.Reserve0 == nil || r.Reserve1 == nil || r.Reserve0.Sign() == 0 || r.Reserve1.Sign() == 0
}
