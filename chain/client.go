package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/executor"
)

const (
	DefaultGasLimit       uint64 = 300_000
	DefaultReceiptTimeout        = 2 * time.Minute
)

var (
	defaultTip     = big.NewInt(2_000_000_000)
	defaultBaseFee = big.NewInt(5_000_000_000)
)

// Backend is the node surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.DeployBackend
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

type Config struct {
	ChainID *big.Int
	// GasLimit overrides estimation for every call when non-zero
	GasLimit       uint64
	ReceiptTimeout time.Duration
}

// Client signs and submits calls from a single account
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	sender  common.Address
	signer  types.Signer
	erc20   *abi.ABI
	cfg     Config
	logger  *zap.Logger

	// serializes nonce assignment
	sendMu sync.Mutex
}

// NewClient creates a new chain client
func NewClient(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *zap.Logger) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	erc20, err := abi.JSON(strings.NewReader(executor.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	return &Client{
		backend: backend,
		key:     key,
		sender:  crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		erc20:   &erc20,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

func (c *Client) Sender() common.Address {
	return c.sender
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// Allowance reads the ERC-20 allowance of owner for spender
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

// BalanceOf reads the ERC-20 balance of owner
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", owner)
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	contract := bind.NewBoundContract(token, *c.erc20, c.backend, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, token.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

// Preflight executes the call against the latest state without sending it
func (c *Client) Preflight(ctx context.Context, call executor.Call) error {
	to := call.To
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  c.sender,
		To:    &to,
		Value: call.Value,
		Data:  call.Data,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: preflight: %v", executor.ErrReverted, err)
	}
	return nil
}

// Submit preflights, signs and sends the call, then waits for its receipt
func (c *Client) Submit(ctx context.Context, call executor.Call) (*executor.Receipt, error) {
	if err := c.Preflight(ctx, call); err != nil {
		return nil, err
	}

	gas := call.GasLimit
	if gas == 0 {
		gas = c.cfg.GasLimit
	}
	if gas == 0 {
		to := call.To
		estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.sender, To: &to, Value: call.Value, Data: call.Data})
		if err != nil || estimated == 0 {
			gas = DefaultGasLimit
		} else {
			gas = estimated * 12 / 10
		}
	}
	call.GasLimit = gas

	c.sendMu.Lock()
	txs, err := c.sign(ctx, []executor.Call{call})
	if err != nil {
		c.sendMu.Unlock()
		return nil, err
	}
	tx := txs[0]
	err = c.backend.SendTransaction(ctx, tx)
	c.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Debug("Sent transaction",
		zap.String("hash", tx.Hash().Hex()),
		zap.String("to", call.To.Hex()),
		zap.Uint64("nonce", tx.Nonce()))

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s: %w", tx.Hash().Hex(), err)
	}

	result := &executor.Receipt{
		TxHash:  tx.Hash(),
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

// SignCalls signs the calls with consecutive nonces starting at the pending
// nonce, for inclusion in a bundle. Nothing is sent.
func (c *Client) SignCalls(ctx context.Context, calls []executor.Call) ([]*types.Transaction, error) {
	if len(calls) == 0 {
		return nil, errors.New("no calls to sign")
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sign(ctx, calls)
}

func (c *Client) sign(ctx context.Context, calls []executor.Call) ([]*types.Transaction, error) {
	tip, feeCap := c.fees(ctx)

	nonce, err := c.backend.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	txs := make([]*types.Transaction, 0, len(calls))
	for i, call := range calls {
		to := call.To
		gas := call.GasLimit
		if gas == 0 {
			gas = c.cfg.GasLimit
		}
		if gas == 0 {
			gas = DefaultGasLimit
		}
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}

		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.cfg.ChainID,
			Nonce:     nonce + uint64(i),
			To:        &to,
			Gas:       gas,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Value:     value,
			Data:      call.Data,
		})
		signed, err := types.SignTx(tx, c.signer, c.key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign call %d: %w", i, err)
		}
		txs = append(txs, signed)
	}
	return txs, nil
}

// fees returns the tip and a fee cap of twice the base fee plus the tip
func (c *Client) fees(ctx context.Context) (*big.Int, *big.Int) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = new(big.Int).Set(defaultTip)
	}

	baseFee := defaultBaseFee
	if h, err := c.backend.HeaderByNumber(ctx, nil); err == nil && h != nil && h.BaseFee != nil {
		baseFee = h.BaseFee
	}

	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap
}
