package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
)

var (
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrDeadlineExpired  = errors.New("deadline expired")
	ErrReverted         = errors.New("transaction reverted")
	ErrEmptyPlan        = errors.New("plan has no steps")
	ErrNoRouter         = errors.New("venue has no router")
)

type StepKind int

const (
	StepApprove StepKind = iota
	StepSwap
)

func (k StepKind) String() string {
	switch k {
	case StepApprove:
		return "approve"
	case StepSwap:
		return "swap"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type StepStatus int

const (
	StatusNotAttempted StepStatus = iota
	StatusSucceeded
	StatusFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusNotAttempted:
		return "not_attempted"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Step is one on-chain action of a plan. Approve steps use Token, Spender
// and Amount; swap steps use the remaining fields.
type Step struct {
	Kind StepKind

	Token   common.Address
	Spender common.Address
	Amount  *big.Int

	Venue        dex.Venue
	Router       common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	Deadline     time.Time
}

func (s Step) String() string {
	if s.Kind == StepApprove {
		return fmt.Sprintf("approve %s for %s", s.Amount, s.Spender.Hex())
	}
	return fmt.Sprintf("swap %s on %s (min %s)", s.AmountIn, s.Venue.ID(), s.MinAmountOut)
}

// BalanceChange is the observed delta of one token around a step
type BalanceChange struct {
	Token common.Address
	Delta *big.Int
}

type StepOutcome struct {
	Status         StepStatus
	TxHash         common.Hash
	GasUsed        uint64
	Err            error
	BalanceChanges []BalanceChange
}

// Plan is an ordered list of steps derived from one opportunity
type Plan struct {
	Opportunity *arbitrage.Opportunity
	Sender      common.Address
	Deadline    time.Time
	Steps       []Step
	Outcomes    []StepOutcome
}

// Swaps returns the number of swap steps
func (p *Plan) Swaps() int {
	n := 0
	for _, s := range p.Steps {
		if s.Kind == StepSwap {
			n++
		}
	}
	return n
}

// Result summarizes a plan execution. FailedStep is -1 when every step succeeded.
type Result struct {
	Outcomes       []StepOutcome
	FailedStep     int
	Err            error
	BalanceChanges map[common.Address]*big.Int
	Duration       time.Duration
}

func (r *Result) Succeeded() bool {
	return r.FailedStep < 0
}

// Call is a contract call ready to be signed
type Call struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

type Receipt struct {
	TxHash      common.Hash
	Success     bool
	GasUsed     uint64
	BlockNumber uint64
}

// Chain is the on-chain surface the coordinator needs
type Chain interface {
	Sender() common.Address
	BlockNumber(ctx context.Context) (uint64, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Submit(ctx context.Context, call Call) (*Receipt, error)
}

// StepCall builds the contract call for a step
func StepCall(step Step) (Call, error) {
	switch step.Kind {
	case StepApprove:
		data, err := EncodeApprove(step.Spender, step.Amount)
		if err != nil {
			return Call{}, fmt.Errorf("failed to encode approve: %w", err)
		}
		return Call{To: step.Token, Data: data, Value: new(big.Int)}, nil
	case StepSwap:
		data, err := EncodeSwap(&SwapParams{
			TokenIn:      step.TokenIn,
			TokenOut:     step.TokenOut,
			AmountIn:     step.AmountIn,
			AmountOutMin: step.MinAmountOut,
			To:           step.Recipient,
			Deadline:     big.NewInt(step.Deadline.Unix()),
		})
		if err != nil {
			return Call{}, fmt.Errorf("failed to encode swap: %w", err)
		}
		return Call{To: step.Router, Data: data, Value: new(big.Int)}, nil
	default:
		return Call{}, fmt.Errorf("unknown step kind %s", step.Kind)
	}
}

// PlanCalls builds the calls of every step in order
func PlanCalls(plan *Plan) ([]Call, error) {
	calls := make([]Call, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		call, err := StepCall(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}
