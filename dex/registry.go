package dex

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry owns the canonical Token and Venue instances. Components borrow
// venues from it by identifier instead of constructing their own.
type Registry struct {
	mu     sync.RWMutex
	tokens  map[common.Address]Token
	symbols map[string]common.Address
	venues  map[string]Venue
	order  []string
}

// NewRegistry creates a new Registry
func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[common.Address]Token),
		symbols: make(map[string]common.Address),
		venues:  make(map[string]Venue),
	}
}

// RegisterToken adds a token. Symbols, when set, must be unique.
func (r *Registry) RegisterToken(t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[t.Address]; ok {
		return fmt.Errorf("token %s: %w", t, ErrDuplicate)
	}
	if t.Symbol != "" {
		if other, ok := r.symbols[t.Symbol]; ok {
			return fmt.Errorf("token %s: %w: symbol taken by %s", t.Address.Hex(), ErrDuplicate, other.Hex())
		}
		r.symbols[t.Symbol] = t.Address
	}
	r.tokens[t.Address] = t
	return nil
}

// Token looks a token up by address
func (r *Registry) Token(addr common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[addr]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// TokenBySymbol looks a token up by its display symbol
func (r *Registry) TokenBySymbol(symbol string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.symbols[symbol]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return r.tokens[addr], nil
}

// RegisterVenue adds a venue. Both of its tokens must already be registered.
func (r *Registry) RegisterVenue(v Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.venues[v.ID()]; ok {
		return fmt.Errorf("venue %s: %w", v.ID(), ErrDuplicate)
	}
	t0, t1 := v.Tokens()
	for _, t := range []Token{t0, t1} {
		if _, ok := r.tokens[t.Address]; !ok {
			return fmt.Errorf("venue %s: %w: %s", v.ID(), ErrUnknownToken, t.Address.Hex())
		}
	}

	r.venues[v.ID()] = v
	r.order = append(r.order, v.ID())
	return nil
}

// Venue looks a venue up by identifier
func (r *Registry) Venue(id string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, id)
	}
	return v, nil
}

// Venues returns every venue in registration order
func (r *Registry) Venues() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Venue, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.venues[id])
	}
	return out
}

// VenuesForToken returns the venues trading token, in registration order
func (r *Registry) VenuesForToken(token common.Address) []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Venue
	for _, id := range r.order {
		v := r.venues[id]
		t0, t1 := v.Tokens()
		if t0.Address == token || t1.Address == token {
			out = append(out, v)
		}
	}
	return out
}
