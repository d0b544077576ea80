package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils"
)

var (
	cfgFile string
	debug   bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "arbengine",
	Short: "A CLI engine for cyclic AMM arbitrage",
	Long: `A CLI engine that watches constant-product pools for cyclic price
discrepancies and executes them as sequential swaps or Flashbots bundles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		utils.InitLogger(debug, logFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.CleanupLogger()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbengine.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", utils.DefaultLogFile, "log file next to stdout, empty for stdout only")
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	log := utils.GetLogger()
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Error("Failed to load config", zap.Error(err))
		return nil, nil, err
	}
	return cfg, log, nil
}
