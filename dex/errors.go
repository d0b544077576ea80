package dex

import "errors"

var (
	// ErrInvalidToken is returned when a token is not one of the venue's pair
	ErrInvalidToken = errors.New("token not traded by venue")
	// ErrEmptyPool is returned when either reserve is zero
	ErrEmptyPool = errors.New("venue has an empty reserve")
	// ErrInsufficientLiquidity is returned when the requested output is not below the output reserve
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrInvalidAmount is returned for nil or negative amounts
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrStaleReserves marks a snapshot older than the chain head
	ErrStaleReserves = errors.New("stale reserves")

	ErrUnknownToken = errors.New("unknown token")
	ErrUnknownVenue = errors.New("unknown venue")
	ErrDuplicate    = errors.New("already registered")
)
