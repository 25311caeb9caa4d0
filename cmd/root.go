package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "checkpool",
	Short: "Work lease service for untrusted checker workers",
	Long:  "Hands out work items to checker workers under exclusive leases, collects their reports, and lets operators run sessions over the shared pool.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotenv(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}

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

// loadDotenv exports the variables in path without overriding ones
// already set. A missing file is not an error.
func loadDotenv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
