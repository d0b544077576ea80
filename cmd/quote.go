package cmd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/quote"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

var (
	quoteVenues    string
	quoteToken     string
	quoteAmount    string
	quoteMaxImpact float64
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a swap path against live reserves",
	Example: `  arbengine quote --path UNIV2,SUSHI --token WETH --amount 1
  arbengine quote --path UNIV2 --token WETH --max-impact 0.5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		backend, err := ethclient.DialContext(ctx, cfg.Network.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to Ethereum node: %w", err)
		}
		defer backend.Close()

		reader, err := uniswap.NewPairReader(backend, cfg.RPCRateLimit.Limiter())
		if err != nil {
			return err
		}
		registry, err := cfg.BuildRegistry(reader)
		if err != nil {
			return err
		}

		start, err := registry.TokenBySymbol(quoteToken)
		if err != nil {
			return err
		}
		path, err := buildPath(registry, start, strings.Split(quoteVenues, ","))
		if err != nil {
			return err
		}
		for _, hop := range path {
			if err := hop.Venue.RefreshReserves(ctx); err != nil {
				return err
			}
		}

		engine := quote.NewEngine(cfg.QuoteConfig())
		out := cmd.OutOrStdout()

		var amountIn *big.Int
		if quoteMaxImpact > 0 {
			optimal, err := engine.OptimalInputForImpact(path[0].Venue, start.Address, quoteMaxImpact)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "largest input under %.2f%% impact on %s: %s %s\n",
				quoteMaxImpact, path[0].Venue.ID(), start.Format(optimal), start)
			if quoteAmount == "" {
				amountIn = optimal
			}
		}
		if amountIn == nil {
			parsed, ok := umath.ParseUnits(quoteAmount, start.Decimals)
			if !ok || parsed.Sign() <= 0 {
				return fmt.Errorf("invalid amount %q", quoteAmount)
			}
			amountIn = parsed
		}

		q, err := engine.QuotePath(path, amountIn)
		if err != nil {
			return err
		}

		tokenIn := start
		amount := amountIn
		for i, hop := range path {
			tokenOut, err := hop.Venue.OtherToken(tokenIn.Address)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d. %-10s %s %s -> %s %s (impact %.4f%%)\n", i+1, hop.Venue.ID(),
				tokenIn.Format(amount), tokenIn, tokenOut.Format(q.Amounts[i+1]), tokenOut, q.HopImpacts[i])
			tokenIn, amount = tokenOut, q.Amounts[i+1]
		}
		fmt.Fprintf(out, "output %s %s, minimum %s %s at %d bps slippage\n",
			tokenIn.Format(q.AmountOut), tokenIn, tokenIn.Format(q.MinAmountOut), tokenIn, engine.SlippageBps())
		return nil
	},
}

// buildPath walks the named venues starting from start
func buildPath(registry *dex.Registry, start dex.Token, ids []string) (quote.Path, error) {
	path := make(quote.Path, 0, len(ids))
	token := start
	for _, id := range ids {
		v, err := registry.Venue(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		next, err := v.OtherToken(token.Address)
		if err != nil {
			return nil, fmt.Errorf("venue %s does not trade %s: %w", v.ID(), token, err)
		}
		path = append(path, quote.Hop{Venue: v, TokenIn: token.Address})
		token = next
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().StringVar(&quoteVenues, "path", "", "comma separated venue ids in hop order")
	quoteCmd.Flags().StringVar(&quoteToken, "token", "", "input token symbol")
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "", "input amount in whole token units")
	quoteCmd.Flags().Float64Var(&quoteMaxImpact, "max-impact", 0, "also search the largest first-hop input under this percent impact")
	_ = quoteCmd.MarkFlagRequired("path")
	_ = quoteCmd.MarkFlagRequired("token")
}
