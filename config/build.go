package config

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/dex/sushiswap"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/executor"
	"github.com/michaelpento.lv/arbengine/quote"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

var protocols = map[string]uniswap.Protocol{
	uniswap.V2.Name:   uniswap.V2,
	sushiswap.V2.Name: sushiswap.V2,
}

func protocolByName(name string) (uniswap.Protocol, error) {
	p, ok := protocols[name]
	if !ok {
		names := make([]string, 0, len(protocols))
		for n := range protocols {
			names = append(names, n)
		}
		sort.Strings(names)
		return uniswap.Protocol{}, fmt.Errorf("unknown protocol %q, want one of %v", name, names)
	}
	return p, nil
}

// BuildRegistry registers the configured tokens and venues. Every venue
// reads its reserves from source; a nil source leaves them static.
func (c *Config) BuildRegistry(source dex.ReserveSource) (*dex.Registry, error) {
	registry := dex.NewRegistry()
	for _, tc := range c.Tokens {
		tok, err := dex.NewToken(common.HexToAddress(tc.Address), tc.Decimals, tc.Symbol)
		if err != nil {
			return nil, err
		}
		if err := registry.RegisterToken(tok); err != nil {
			return nil, err
		}
	}

	for _, vc := range c.Venues {
		protocol, err := protocolByName(vc.Protocol)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.ID, err)
		}
		t0, err := registry.TokenBySymbol(vc.Token0)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.ID, err)
		}
		t1, err := registry.TokenBySymbol(vc.Token1)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.ID, err)
		}
		// reserve0 of a pair belongs to the lower address
		if first, _ := uniswap.SortTokens(t0.Address, t1.Address); first != t0.Address {
			t0, t1 = t1, t0
		}

		params := dex.VenueParams{
			ID:       vc.ID,
			Protocol: protocol.Name,
			Address:  protocol.PairFor(t0.Address, t1.Address),
			Router:   protocol.Router,
			Token0:   t0,
			Token1:   t1,
			FeeBps:   protocol.FeeBps,
		}
		if vc.Address != "" {
			params.Address = common.HexToAddress(vc.Address)
		}
		if vc.Router != "" {
			params.Router = common.HexToAddress(vc.Router)
		}
		if vc.FeeBps != 0 {
			params.FeeBps = vc.FeeBps
		}

		venue, err := dex.NewConstantProductVenue(params, source)
		if err != nil {
			return nil, err
		}
		if err := registry.RegisterVenue(venue); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// ScannerSpec resolves start symbols and amounts against registry
func (c *Config) ScannerSpec(registry *dex.Registry) (arbitrage.ScannerConfig, error) {
	spec := arbitrage.ScannerConfig{
		Interval:           c.Scanner.Interval.Duration(),
		MaxHops:            c.Scanner.MaxHops,
		RefreshConcurrency: c.Scanner.RefreshConcurrency,
		VenueIDs:           c.Scanner.Venues,
	}

	for _, sc := range c.Scanner.Starts {
		tok, err := registry.TokenBySymbol(sc.Token)
		if err != nil {
			return arbitrage.ScannerConfig{}, fmt.Errorf("invalid start: %w", err)
		}

		start := arbitrage.StartSpec{Token: tok.Address, ApplyGasCost: sc.ApplyGasCost}
		for _, value := range sc.Amounts {
			amount, ok := umath.ParseUnits(value, tok.Decimals)
			if !ok || amount.Sign() <= 0 {
				return arbitrage.ScannerConfig{}, fmt.Errorf("start %s: invalid amount %q", tok, value)
			}
			start.Amounts = append(start.Amounts, amount)
		}

		minProfit := sc.MinProfit
		if minProfit == "" {
			minProfit = c.Scanner.MinProfit
		}
		if minProfit != "" {
			amount, ok := umath.ParseUnits(minProfit, tok.Decimals)
			if !ok {
				return arbitrage.ScannerConfig{}, fmt.Errorf("start %s: invalid min_profit %q", tok, minProfit)
			}
			start.MinProfit = amount
		}

		spec.Starts = append(spec.Starts, start)
	}

	return spec, nil
}

func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		SlippageBps:       c.Execution.SlippageBps,
		Deadline:          c.Execution.Deadline.Duration(),
		RefreshBeforeSwap: c.Execution.RefreshBeforeSwap,
		StrictStaleness:   c.Execution.StrictStaleness,
	}
}

func (c *Config) QuoteConfig() quote.Config {
	return quote.Config{
		SlippageBps: c.Execution.SlippageBps,
		Search: quote.SearchConfig{
			Iterations: c.Execution.Search.Iterations,
			CeilingBps: c.Execution.Search.CeilingBps,
		},
	}
}

func (c *Config) ChainConfig() chain.Config {
	return chain.Config{
		ChainID:        new(big.Int).SetUint64(c.Network.ChainID),
		GasLimit:       c.Network.GasLimit,
		ReceiptTimeout: c.Network.ReceiptTimeout.Duration(),
	}
}

// CoinbaseAddress is the priority payment recipient, zero when unset
func (b *BundleConfig) CoinbaseAddress() common.Address {
	if b.Coinbase == "" {
		return common.Address{}
	}
	return common.HexToAddress(b.Coinbase)
}

// Limiter returns nil when throttling is disabled
func (r RateLimitConfig) Limiter() *rate.Limiter {
	if r.RequestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(r.RequestsPerSecond), r.BurstSize)
}
