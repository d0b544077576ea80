package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/cmd/bot"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage engine",
	Long: `Scan continuously and execute every profitable opportunity, as
sequential swaps or as bundles depending on execution.mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		engine, err := bot.New(ctx, cfg, log, bot.Options{})
		if err != nil {
			log.Error("Failed to create engine", zap.Error(err))
			return err
		}

		if err := engine.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		engine.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
