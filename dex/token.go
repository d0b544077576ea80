package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// MaxDecimals is the largest precision accepted for a token
const MaxDecimals = 18

// Token is an ERC-20 identity. It is passed by value and never mutated.
type Token struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
}

// NewToken creates a new Token
func NewToken(address common.Address, decimals uint8, symbol string) (Token, error) {
	if decimals > MaxDecimals {
		return Token{}, fmt.Errorf("token %s: decimals %d exceed %d", symbol, decimals, MaxDecimals)
	}
	if address == (common.Address{}) {
		return Token{}, fmt.Errorf("token %s: zero address", symbol)
	}
	return Token{Address: address, Decimals: decimals, Symbol: symbol}, nil
}

// Format renders an amount of this token in whole units
func (t Token) Format(amount *big.Int) string {
	return umath.FormatUnits(amount, t.Decimals)
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}
