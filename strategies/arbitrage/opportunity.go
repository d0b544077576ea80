package arbitrage

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/quote"
)

// Opportunity is a quoted cyclic path. Profit is in start token units.
type Opportunity struct {
	Path         quote.Path
	Quote        *quote.Quote
	StartToken   common.Address
	StartAmount  *big.Int
	OutputAmount *big.Int
	Profit       *big.Int
	// CostAdjustment is the estimated execution overhead in start token
	// units, nil when none was applied
	CostAdjustment *big.Int
	BlockNumber    uint64
	FoundAt        time.Time
}

// Hops returns the number of swaps in the path
func (o *Opportunity) Hops() int {
	return len(o.Path)
}

// NetProfit returns Profit minus CostAdjustment
func (o *Opportunity) NetProfit() *big.Int {
	net := new(big.Int).Set(o.Profit)
	if o.CostAdjustment != nil {
		net.Sub(net, o.CostAdjustment)
	}
	return net
}

// IsProfitable reports whether the net profit is positive and above minProfit
func (o *Opportunity) IsProfitable(minProfit *big.Int) bool {
	net := o.NetProfit()
	if net.Sign() <= 0 {
		return false
	}
	return minProfit == nil || net.Cmp(minProfit) > 0
}

// Fingerprint identifies the path, size and observed block. Two ticks over
// unchanged reserves yield the same fingerprint.
func (o *Opportunity) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(o.Path.Key())
	_, _ = d.Write(o.StartAmount.Bytes())

	var block [8]byte
	binary.BigEndian.PutUint64(block[:], o.BlockNumber)
	_, _ = d.Write(block[:])
	return d.Sum64()
}

// better orders opportunities by net profit, then fewer hops, then path key
func better(a, b *Opportunity) bool {
	if c := a.NetProfit().Cmp(b.NetProfit()); c != 0 {
		return c > 0
	}
	if a.Hops() != b.Hops() {
		return a.Hops() < b.Hops()
	}
	return a.Path.Key() < b.Path.Key()
}
