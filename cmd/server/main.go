package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/caption-relay/internal/config"
	"github.com/lexiqai/caption-relay/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "caption-relay",
	Short: "Live caption relay: speech in, translated captions out",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}

		observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
		return run(cfg)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().String("port", "", "HTTP listen port (overrides PORT)")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.Flags().Bool("log-pretty", false, "Human-readable logs (overrides LOG_PRETTY)")
	rootCmd.Flags().Int("pool-size", 0, "Upstream connections per session (overrides POOL_SIZE)")
}

// applyFlags overrides env configuration with flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetString("port")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty, _ = flags.GetBool("log-pretty")
	}
	if flags.Changed("pool-size") {
		cfg.PoolSize, _ = flags.GetInt("pool-size")
	}
	return cfg.Validate()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "caption-relay: %v\n", err)
		os.Exit(1)
	}
}
