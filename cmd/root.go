package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "livability",
	Short: "Per-pixel livability scoring over terrain and regional data",
	Long:  "Scores every pixel of a map viewport from elevation-derived slope, elevation and aspect plus per-region attributes, and renders the result as a colour-ramped PNG.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
