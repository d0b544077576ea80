package quote

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/dex"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// SearchConfig bounds the trade size search. The result is the best amount
// seen within Iterations halvings, not an exact optimum.
type SearchConfig struct {
	Iterations int
	// CeilingBps caps the input at this share of the input reserve
	CeilingBps uint32
}

// DefaultSearchConfig returns 10 iterations under a 1% reserve ceiling
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{Iterations: 10, CeilingBps: 100}
}

// OptimalInputForImpact binary searches the largest input whose price
// impact stays within maxImpactPct
func OptimalInputForImpact(venue dex.Venue, tokenIn common.Address, maxImpactPct float64, cfg SearchConfig) (*big.Int, error) {
	token0, token1 := venue.Tokens()
	reserves := venue.Reserves()

	var reserveIn *big.Int
	switch tokenIn {
	case token0.Address:
		reserveIn = reserves.Reserve0
	case token1.Address:
		reserveIn = reserves.Reserve1
	default:
		return nil, fmt.Errorf("venue %s: %w: %s", venue.ID(), dex.ErrInvalidToken, tokenIn.Hex())
	}
	if reserves.Empty() {
		return nil, fmt.Errorf("venue %s: %w", venue.ID(), dex.ErrEmptyPool)
	}

	low := new(big.Int)
	high := umath.MulBps(reserveIn, cfg.CeilingBps)
	best := new(big.Int)
	two := big.NewInt(2)

	for i := 0; i < cfg.Iterations; i++ {
		mid := new(big.Int).Add(low, high)
		mid.Quo(mid, two)
		if mid.Sign() == 0 {
			break
		}

		impact, err := venue.PriceImpact(tokenIn, mid)
		if err != nil {
			return nil, err
		}
		if impact <= maxImpactPct {
			best.Set(mid)
			low = mid
		} else {
			high = mid
		}
	}

	return best, nil
}
