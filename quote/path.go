package quote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/dex"
)

var (
	// ErrBrokenChain is returned when a hop does not start in the previous hop's output token
	ErrBrokenChain = errors.New("path hops are not chained")
	ErrEmptyPath   = errors.New("empty path")
)

// Hop is one swap of a path: sell TokenIn on Venue
type Hop struct {
	Venue   dex.Venue
	TokenIn common.Address
}

// TokenOut returns the token the hop buys
func (h Hop) TokenOut() (common.Address, error) {
	t, err := h.Venue.OtherToken(h.TokenIn)
	if err != nil {
		return common.Address{}, err
	}
	return t.Address, nil
}

// Path is an ordered sequence of hops
type Path []Hop

// Validate checks that every hop starts in the token the previous hop bought
func (p Path) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPath
	}

	var prevOut common.Address
	for i, hop := range p {
		if hop.Venue == nil {
			return fmt.Errorf("hop %d: missing venue", i)
		}
		if i > 0 && hop.TokenIn != prevOut {
			return fmt.Errorf("hop %d on %s: %w: expected %s, got %s",
				i, hop.Venue.ID(), ErrBrokenChain, prevOut.Hex(), hop.TokenIn.Hex())
		}
		out, err := hop.TokenOut()
		if err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}
		prevOut = out
	}
	return nil
}

// TokenIn returns the starting token
func (p Path) TokenIn() common.Address {
	if len(p) == 0 {
		return common.Address{}
	}
	return p[0].TokenIn
}

// TokenOut returns the token bought by the last hop
func (p Path) TokenOut() (common.Address, error) {
	if len(p) == 0 {
		return common.Address{}, ErrEmptyPath
	}
	return p[len(p)-1].TokenOut()
}

// IsCyclic reports whether the path is valid and ends in its start token
func (p Path) IsCyclic() bool {
	if p.Validate() != nil {
		return false
	}
	out, err := p.TokenOut()
	return err == nil && out == p.TokenIn()
}

// Tokens returns the traversed token sequence, start token included
func (p Path) Tokens() []common.Address {
	tokens := make([]common.Address, 0, len(p)+1)
	for i, hop := range p {
		if i == 0 {
			tokens = append(tokens, hop.TokenIn)
		}
		out, err := hop.TokenOut()
		if err != nil {
			break
		}
		tokens = append(tokens, out)
	}
	return tokens
}

// VenueIDs returns the venue identifiers in hop order
func (p Path) VenueIDs() []string {
	ids := make([]string, len(p))
	for i, hop := range p {
		ids[i] = hop.Venue.ID()
	}
	return ids
}

// Key identifies the path by venues and input tokens
func (p Path) Key() string {
	var sb strings.Builder
	for i, hop := range p {
		if i > 0 {
			sb.WriteByte('>')
		}
		sb.WriteString(hop.Venue.ID())
		sb.WriteByte(':')
		sb.WriteString(hop.TokenIn.Hex())
	}
	return sb.String()
}

func (p Path) String() string {
	return strings.Join(p.VenueIDs(), " -> ")
}
