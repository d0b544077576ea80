package sushiswap

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/michaelpento.lv/arbengine/dex/uniswap"
)

func TestPairFor(t *testing.T) {
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	assert.Equal(t,
		common.HexToAddress("0x397FF1542f962076d0BFE58eA045FfA2d347ACa0"),
		V2.PairFor(uniswap.WETHAddress, usdc),
	)
	assert.NotEqual(t, uniswap.V2.PairFor(uniswap.WETHAddress, usdc), V2.PairFor(uniswap.WETHAddress, usdc))
}
