package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/arbengine/dex"
)

// Pair contract ABI
const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "token0",
	"outputs": [{"name": "", "type": "address"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "token1",
	"outputs": [{"name": "", "type": "address"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Backend is the part of an RPC client the pair reader needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
}

// PairReader reads V2 pair state. It implements dex.ReserveSource.
type PairReader struct {
	backend Backend
	pairABI abi.ABI
	limiter *rate.Limiter

	mu        sync.Mutex
	contracts map[common.Address]*bind.BoundContract
}

// NewPairReader creates a new PairReader. A nil limiter disables throttling.
func NewPairReader(backend Backend, limiter *rate.Limiter) (*PairReader, error) {
	parsedABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	return &PairReader{
		backend:   backend,
		pairABI:   parsedABI,
		limiter:   limiter,
		contracts: make(map[common.Address]*bind.BoundContract),
	}, nil
}

func (p *PairReader) contract(pool common.Address) *bind.BoundContract {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.contracts[pool]; ok {
		return c
	}
	c := bind.NewBoundContract(pool, p.pairABI, p.backend, nil, nil)
	p.contracts[pool] = c
	return c
}

func (p *PairReader) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// FetchReserves returns both reserves read in a single call pinned to the current head
func (p *PairReader) FetchReserves(ctx context.Context, pool common.Address) (*dex.Reserves, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	block, err := p.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: new(big.Int).SetUint64(block)}
	if err := p.contract(pool).Call(opts, &out, "getReserves"); err != nil {
		return nil, fmt.Errorf("failed to get reserves: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("failed to parse reserves: got %d values", len(out))
	}

	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse reserve1")
	}
	timestamp, ok := out[2].(uint32)
	if !ok {
		return nil, fmt.Errorf("failed to parse blockTimestampLast")
	}

	return &dex.Reserves{
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		BlockNumber: block,
		Timestamp:   timestamp,
	}, nil
}

// Tokens returns token0 and token1 of the pair
func (p *PairReader) Tokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	token0, err := p.token(ctx, pool, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := p.token(ctx, pool, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

func (p *PairReader) token(ctx context.Context, pool common.Address, method string) (common.Address, error) {
	if err := p.wait(ctx); err != nil {
		return common.Address{}, err
	}

	var out []interface{}
	if err := p.contract(pool).Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return common.Address{}, fmt.Errorf("failed to get %s: %w", method, err)
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to parse %s address", method)
	}
	return addr, nil
}
