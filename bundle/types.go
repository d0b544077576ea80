package bundle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/michaelpento.lv/arbengine/executor"
)

var (
	ErrEmptyBundle        = errors.New("empty bundle")
	ErrNotSimulated       = errors.New("bundle has not been simulated")
	ErrSimulationRejected = errors.New("bundle simulation rejected")
	ErrSubmissionFailed   = errors.New("bundle submission failed")
)

// Operation is one signed transaction of a bundle
type Operation struct {
	Tx  *types.Transaction
	Raw []byte
	// Plan and Step locate the operation in its source plan; both are -1
	// for the priority payment
	Plan     int
	Step     int
	Priority bool
}

// Bundle is an ordered set of transactions for one target block. The
// priority payment, when present, is always the last operation.
type Bundle struct {
	Operations  []Operation
	TargetBlock uint64
	Hash        common.Hash
	Simulation  *SimulationResult
	CreatedAt   time.Time
}

// RawTxs returns the encoded transactions in order
func (b *Bundle) RawTxs() [][]byte {
	raw := make([][]byte, len(b.Operations))
	for i, op := range b.Operations {
		raw[i] = op.Raw
	}
	return raw
}

// Retarget moves the bundle to another block. The previous simulation no
// longer applies and is cleared.
func (b *Bundle) Retarget(block uint64) {
	b.TargetBlock = block
	b.Simulation = nil
}

// TotalGas sums the gas limits of every operation
func (b *Bundle) TotalGas() uint64 {
	var total uint64
	for _, op := range b.Operations {
		total += op.Tx.Gas()
	}
	return total
}

type SimulationResult struct {
	Accepted bool
	Reason   string
	GasUsed  uint64
	// FailedIndex is the first failing operation, -1 when none failed
	FailedIndex  int
	CoinbaseDiff *big.Int
	StateBlock   uint64
}

type SubmitResult struct {
	Submitted   bool
	BundleHash  common.Hash
	RelayHash   string
	TargetBlock uint64
	Duplicate   bool
	Err         error
}

// PriorityPayment is a value transfer appended to the bundle
type PriorityPayment struct {
	To     common.Address
	Amount *big.Int
}

// Relay simulates and delivers bundles
type Relay interface {
	SimulateBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (*SimulationResult, error)
	SendBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (string, error)
}

// Signer signs calls with consecutive nonces
type Signer interface {
	SignCalls(ctx context.Context, calls []executor.Call) ([]*types.Transaction, error)
}

type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}
