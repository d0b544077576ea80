package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const RouterABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

const ERC20ABI = `[{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var (
	routerMeta = &bind.MetaData{ABI: RouterABI}
	erc20Meta  = &bind.MetaData{ABI: ERC20ABI}
)

// SwapParams are the arguments of swapExactTokensForTokens
type SwapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     *big.Int
}

// EncodeSwap packs a swapExactTokensForTokens call
func EncodeSwap(params *SwapParams) ([]byte, error) {
	if params == nil {
		return nil, fmt.Errorf("params cannot be nil")
	}
	path := params.Path
	if len(path) == 0 {
		path = []common.Address{params.TokenIn, params.TokenOut}
	}
	router, err := routerMeta.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return router.Pack(
		"swapExactTokensForTokens",
		params.AmountIn,
		params.AmountOutMin,
		path,
		params.To,
		params.Deadline,
	)
}

// DecodeSwap unpacks swapExactTokensForTokens calldata
func DecodeSwap(data []byte) (*SwapParams, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid data length")
	}

	router, err := routerMeta.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	method, err := router.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to decode method: %w", err)
	}
	if method.Name != "swapExactTokensForTokens" {
		return nil, fmt.Errorf("unexpected method %s", method.Name)
	}

	params := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(params, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}

	path, ok := params["path"].([]common.Address)
	if !ok || len(path) < 2 {
		return nil, fmt.Errorf("invalid path")
	}
	amountIn, ok := params["amountIn"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid amountIn")
	}
	amountOutMin, ok := params["amountOutMin"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid amountOutMin")
	}
	to, ok := params["to"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid to address")
	}
	deadline, ok := params["deadline"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid deadline")
	}

	return &SwapParams{
		TokenIn:      path[0],
		TokenOut:     path[len(path)-1],
		AmountIn:     amountIn,
		AmountOutMin: amountOutMin,
		Path:         path,
		To:           to,
		Deadline:     deadline,
	}, nil
}

// EncodeApprove packs an ERC-20 approve call
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	erc20, err := erc20Meta.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return erc20.Pack("approve", spender, amount)
}
