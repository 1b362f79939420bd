// Package cmd wires the CLI: configuration loading, logging setup, and the
// worker, reprocessor, migrate, and search subcommands.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "filesearch",
	Short: "Resilient file indexing pipeline with hybrid search",
	Long: `filesearch consumes file references from a durable queue, extracts
text (including OCR for images), embeds image content, and commits everything
to a Postgres search index that serves combined keyword and vector queries.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return loadConfig()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/config.yaml)")
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("configs")
		viper.AddConfigPath("/etc/filesearch")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("FILESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// No file is fine; defaults plus environment cover everything.
	}

	cfg = config.Defaults()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slogger.Configure(cfg.Log.Level, cfg.Log.Format)
	return nil
}
