package uniswap

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Protocol describes a Uniswap V2 style deployment
type Protocol struct {
	Name         string
	Factory      common.Address
	Router       common.Address
	InitCodeHash common.Hash
	FeeBps       uint32
}

// Mainnet deployment
var (
	MainnetRouter  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	MainnetFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	WETHAddress    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	V2 = Protocol{
		Name:         "uniswap_v2",
		Factory:      MainnetFactory,
		Router:       MainnetRouter,
		InitCodeHash: common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"),
		FeeBps:       30,
	}
)

// SortTokens orders two tokens the way V2 factories do
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// PairFor calculates the CREATE2 pair address for two tokens
func (p Protocol) PairFor(tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)

	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256(
		[]byte{0xff},
		p.Factory.Bytes(),
		salt,
		p.InitCodeHash.Bytes(),
	)[12:])
}
