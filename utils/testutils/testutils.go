package testutils

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbengine/dex"
)

// ErrUnavailable is returned by FailingSource
var ErrUnavailable = errors.New("rpc unavailable")

// NewToken creates a token from a hex address
func NewToken(address string, decimals uint8, symbol string) dex.Token {
	return dex.Token{Address: common.HexToAddress(address), Decimals: decimals, Symbol: symbol}
}

// NewVenue creates a static constant-product venue holding the given reserves
func NewVenue(t *testing.T, p dex.VenueParams, reserve0, reserve1 int64, block uint64) *dex.ConstantProductVenue {
	t.Helper()
	v, err := dex.NewConstantProductVenue(p, nil)
	require.NoError(t, err)
	require.NoError(t, v.SetReserves(big.NewInt(reserve0), big.NewInt(reserve1), block))
	return v
}

// FailingSource is a reserve source whose every read fails
type FailingSource struct{}

func (FailingSource) FetchReserves(ctx context.Context, pool common.Address) (*dex.Reserves, error) {
	return nil, ErrUnavailable
}

// StaticSource serves fixed reserves per pool and counts reads
type StaticSource struct {
	mu       sync.Mutex
	reserves map[common.Address]dex.Reserves
	calls    int
}

func NewStaticSource() *StaticSource {
	return &StaticSource{reserves: make(map[common.Address]dex.Reserves)}
}

// Set replaces the reserves served for pool
func (s *StaticSource) Set(pool common.Address, reserve0, reserve1 *big.Int, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves[pool] = dex.Reserves{Reserve0: reserve0, Reserve1: reserve1, BlockNumber: block}
}

func (s *StaticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticSource) FetchReserves(ctx context.Context, pool common.Address) (*dex.Reserves, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r, ok := s.reserves[pool]
	if !ok {
		return nil, ErrUnavailable
	}
	return &dex.Reserves{
		Reserve0:    new(big.Int).Set(r.Reserve0),
		Reserve1:    new(big.Int).Set(r.Reserve1),
		BlockNumber: r.BlockNumber,
	}, nil
}
