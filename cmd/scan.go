package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/cmd/bot"
)

var scanOnce bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for opportunities without executing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		engine, err := bot.New(ctx, cfg, log, bot.Options{ScanOnly: true})
		if err != nil {
			log.Error("Failed to create engine", zap.Error(err))
			return err
		}

		if !scanOnce {
			if err := engine.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			engine.Stop()
			return nil
		}
		defer engine.Stop()

		found, err := engine.ScanOnce(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(found) == 0 {
			fmt.Fprintln(out, "no profitable opportunity")
			return nil
		}
		for _, opp := range found {
			tok, err := engine.Venues().Token(opp.StartToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  in %s %s  net profit %s %s  block %d\n",
				opp.Path, tok.Format(opp.StartAmount), tok, tok.Format(opp.NetProfit()), tok, opp.BlockNumber)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanOnce, "once", false, "run a single scan tick and print the result")
}
