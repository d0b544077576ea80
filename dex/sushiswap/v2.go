package sushiswap

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/dex/uniswap"
)

// Factory addresses
var (
	MainnetFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	MainnetRouter  = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")

	// V2 is the SushiSwap deployment of the V2 pair contracts
	V2 = uniswap.Protocol{
		Name:         "sushiswap",
		Factory:      MainnetFactory,
		Router:       MainnetRouter,
		InitCodeHash: common.HexToHash("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303"),
		FeeBps:       30,
	}
)
