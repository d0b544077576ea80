package quote

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/dex"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// DefaultSlippageBps is the default tolerance, 0.5%
const DefaultSlippageBps uint32 = 50

var ErrInvalidSlippage = errors.New("slippage out of range")

// Quote is the result of pricing a path at the current reserves. It is
// never cached: every evaluation computes a fresh one.
type Quote struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOut    *big.Int
	MinAmountOut *big.Int
	MaxAmountIn  *big.Int
	SlippageBps  uint32
	// Amounts holds the amount entering each hop followed by the final output
	Amounts     []*big.Int
	Venues      []string
	PriceImpact float64
	// HopImpacts holds each hop's price impact in percent
	HopImpacts []float64
}

// MinOutput returns amount*(10000-slippageBps)/10000
func MinOutput(amount *big.Int, slippageBps uint32) *big.Int {
	return umath.DiscountBps(amount, slippageBps)
}

// MaxInput returns amount*(10000+slippageBps)/10000
func MaxInput(amount *big.Int, slippageBps uint32) *big.Int {
	return umath.PremiumBps(amount, slippageBps)
}

// QuotePath feeds amountIn through every hop in order. Any hop failure
// aborts the whole quote.
func QuotePath(path Path, amountIn *big.Int, slippageBps uint32) (*Quote, error) {
	if slippageBps > umath.BpsDenominator {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidSlippage, slippageBps)
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, dex.ErrInvalidAmount
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, 0, len(path)+1)
	amounts = append(amounts, new(big.Int).Set(amountIn))

	impacts := make([]float64, 0, len(path))
	remaining := 1.0
	current := amountIn
	for i, hop := range path {
		out, impact, err := hop.Venue.QuoteWithImpact(hop.TokenIn, current)
		if err != nil {
			return nil, fmt.Errorf("hop %d on %s: %w", i, hop.Venue.ID(), err)
		}
		impacts = append(impacts, impact)
		remaining *= 1 - impact/100
		amounts = append(amounts, out)
		current = out
	}

	tokenOut, _ := path.TokenOut()
	return &Quote{
		TokenIn:      path.TokenIn(),
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).Set(amountIn),
		AmountOut:    new(big.Int).Set(current),
		MinAmountOut: MinOutput(current, slippageBps),
		SlippageBps:  slippageBps,
		Amounts:      amounts,
		Venues:       path.VenueIDs(),
		PriceImpact:  (1 - remaining) * 100,
		HopImpacts:   impacts,
	}, nil
}

// QuotePathExactOut walks the path backwards to find the input that buys
// amountOut. MaxAmountIn carries the slippage allowance.
func QuotePathExactOut(path Path, amountOut *big.Int, slippageBps uint32) (*Quote, error) {
	if slippageBps > umath.BpsDenominator {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidSlippage, slippageBps)
	}
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, dex.ErrInvalidAmount
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, len(path)+1)
	amounts[len(path)] = new(big.Int).Set(amountOut)

	for i := len(path) - 1; i >= 0; i-- {
		hop := path[i]
		tokenOut, err := hop.TokenOut()
		if err != nil {
			return nil, fmt.Errorf("hop %d on %s: %w", i, hop.Venue.ID(), err)
		}
		in, err := hop.Venue.QuoteInput(tokenOut, amounts[i+1])
		if err != nil {
			return nil, fmt.Errorf("hop %d on %s: %w", i, hop.Venue.ID(), err)
		}
		amounts[i] = in
	}

	tokenOut, _ := path.TokenOut()
	return &Quote{
		TokenIn:      path.TokenIn(),
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).Set(amounts[0]),
		AmountOut:    new(big.Int).Set(amountOut),
		MinAmountOut: new(big.Int).Set(amountOut),
		MaxAmountIn:  MaxInput(amounts[0], slippageBps),
		SlippageBps:  slippageBps,
		Amounts:      amounts,
		Venues:       path.VenueIDs(),
	}, nil
}

// Config holds the engine defaults
type Config struct {
	SlippageBps uint32
	Search      SearchConfig
}

// Engine applies configured defaults to the package-level quote functions
type Engine struct {
	slippageBps uint32
	search      SearchConfig
}

// NewEngine creates a new Engine
func NewEngine(cfg Config) *Engine {
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.Search.Iterations <= 0 {
		cfg.Search.Iterations = DefaultSearchConfig().Iterations
	}
	if cfg.Search.CeilingBps == 0 {
		cfg.Search.CeilingBps = DefaultSearchConfig().CeilingBps
	}
	return &Engine{slippageBps: cfg.SlippageBps, search: cfg.Search}
}

// SlippageBps returns the default tolerance
func (e *Engine) SlippageBps() uint32 {
	return e.slippageBps
}

// QuotePath quotes with the default slippage
func (e *Engine) QuotePath(path Path, amountIn *big.Int) (*Quote, error) {
	return QuotePath(path, amountIn, e.slippageBps)
}

// QuotePathExactOut quotes an exact output with the default slippage
func (e *Engine) QuotePathExactOut(path Path, amountOut *big.Int) (*Quote, error) {
	return QuotePathExactOut(path, amountOut, e.slippageBps)
}

// OptimalInputForImpact runs the bounded search with the configured knobs
func (e *Engine) OptimalInputForImpact(venue dex.Venue, tokenIn common.Address, maxImpactPct float64) (*big.Int, error) {
	return OptimalInputForImpact(venue, tokenIn, maxImpactPct, e.search)
}
