package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/arbengine/bundle"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"
	methodCallBundle = "eth_callBundle"
	methodSendBundle = "eth_sendBundle"

	DefaultTimeout = 3 * time.Second
)

// RPCError is a JSON-RPC error returned by the relay
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// Client talks to a Flashbots-compatible relay
type Client struct {
	httpClient *http.Client
	relayURL   string
	authSigner *ecdsa.PrivateKey
	limiter    *rate.Limiter
	logger     *zap.Logger
	nextID     atomic.Uint64
}

// NewClient creates a new Flashbots client. limiter may be nil.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, limiter *rate.Limiter, logger *zap.Logger) (*Client, error) {
	if relayURL == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	if authKey == nil {
		return nil, fmt.Errorf("auth signer key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		relayURL:   relayURL,
		authSigner: authKey,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// SignerAddress returns the reputation address requests are signed with
func (c *Client) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(c.authSigner.PublicKey)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call posts a signed JSON-RPC request and decodes its result
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	header, err := c.signature(payload)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("flashbots request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flashbots request failed: %s", resp.Status)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// signature builds the header value address:sig(keccak(payload))
func (c *Client) signature(payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authSigner,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s", c.SignerAddress().Hex(), hexutil.Encode(signature)), nil
}

func encodeTxs(txs [][]byte) []string {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = hexutil.Encode(tx)
	}
	return encoded
}

type callBundleResult struct {
	BundleHash   string `json:"bundleHash"`
	CoinbaseDiff string `json:"coinbaseDiff"`
	Results      []struct {
		TxHash  string `json:"txHash"`
		GasUsed uint64 `json:"gasUsed"`
		Error   string `json:"error"`
		Revert  string `json:"revert"`
	} `json:"results"`
	StateBlockNumber uint64 `json:"stateBlockNumber"`
	TotalGasUsed     uint64 `json:"totalGasUsed"`
}

// SimulateBundle runs eth_callBundle against the latest state. Relay-side
// rejections are returned as a rejected result, transport failures as errors.
func (c *Client) SimulateBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (*bundle.SimulationResult, error) {
	params := map[string]interface{}{
		"txs":              encodeTxs(txs),
		"blockNumber":      hexutil.EncodeUint64(targetBlock),
		"stateBlockNumber": "latest",
	}

	var raw callBundleResult
	err := c.call(ctx, methodCallBundle, []interface{}{params}, &raw)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return &bundle.SimulationResult{
			Accepted:    false,
			Reason:      rpcErr.Message,
			FailedIndex: -1,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to simulate bundle: %w", err)
	}

	res := &bundle.SimulationResult{
		Accepted:    true,
		GasUsed:     raw.TotalGasUsed,
		FailedIndex: -1,
		StateBlock:  raw.StateBlockNumber,
	}
	if diff, ok := new(big.Int).SetString(raw.CoinbaseDiff, 10); ok {
		res.CoinbaseDiff = diff
	}
	for i, r := range raw.Results {
		if r.Error == "" && r.Revert == "" {
			continue
		}
		res.Accepted = false
		res.FailedIndex = i
		res.Reason = strings.TrimSpace(r.Error + " " + r.Revert)
		break
	}

	c.logger.Debug("Simulated bundle",
		zap.Uint64("target_block", targetBlock),
		zap.Bool("accepted", res.Accepted),
		zap.Uint64("gas_used", res.GasUsed))
	return res, nil
}

// SendBundle submits the bundle for targetBlock and returns the relay's bundle hash
func (c *Client) SendBundle(ctx context.Context, txs [][]byte, targetBlock uint64) (string, error) {
	params := map[string]interface{}{
		"txs":         encodeTxs(txs),
		"blockNumber": hexutil.EncodeUint64(targetBlock),
	}

	var raw struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := c.call(ctx, methodSendBundle, []interface{}{params}, &raw); err != nil {
		return "", fmt.Errorf("failed to send bundle: %w", err)
	}
	return raw.BundleHash, nil
}
