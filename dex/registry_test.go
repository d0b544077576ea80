package dex

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterToken(tokenA))
	require.NoError(t, r.RegisterToken(tokenB))
	assert.True(t, errors.Is(r.RegisterToken(tokenA), ErrDuplicate))

	ab, err := NewConstantProductVenue(VenueParams{ID: "ab", Token0: tokenA, Token1: tokenB}, nil)
	require.NoError(t, err)
	ac, err := NewConstantProductVenue(VenueParams{ID: "ac", Token0: tokenA, Token1: tokenC}, nil)
	require.NoError(t, err)

	require.NoError(t, r.RegisterVenue(ab))
	assert.True(t, errors.Is(r.RegisterVenue(ab), ErrDuplicate))
	assert.True(t, errors.Is(r.RegisterVenue(ac), ErrUnknownToken))

	require.NoError(t, r.RegisterToken(tokenC))
	require.NoError(t, r.RegisterVenue(ac))

	got, err := r.Venue("ab")
	require.NoError(t, err)
	assert.Same(t, ab, got)

	_, err = r.Venue("zz")
	assert.True(t, errors.Is(err, ErrUnknownVenue))

	assert.Len(t, r.Venues(), 2)
	assert.Equal(t, "ab", r.Venues()[0].ID())
	assert.Len(t, r.VenuesForToken(tokenA.Address), 2)
	assert.Len(t, r.VenuesForToken(tokenC.Address), 1)

	tok, err := r.TokenBySymbol("B")
	require.NoError(t, err)
	assert.Equal(t, tokenB, tok)

	_, err = r.TokenBySymbol("Z")
	assert.True(t, errors.Is(err, ErrUnknownToken))
}

func TestRegistryDuplicateSymbol(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterToken(tokenA))

	impostor := Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1"), Decimals: 6, Symbol: tokenA.Symbol}
	err := r.RegisterToken(impostor)
	assert.True(t, errors.Is(err, ErrDuplicate))

	_, err = r.Token(impostor.Address)
	assert.True(t, errors.Is(err, ErrUnknownToken))

	tok, err := r.TokenBySymbol(tokenA.Symbol)
	require.NoError(t, err)
	assert.Equal(t, tokenA, tok)

	// unnamed tokens never collide
	require.NoError(t, r.RegisterToken(Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000e1"), Decimals: 18}))
	require.NoError(t, r.RegisterToken(Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000e2"), Decimals: 18}))
}
