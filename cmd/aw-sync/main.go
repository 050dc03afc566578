package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"Mansoor88-6/aw-sync-agent/internal/config"
	"Mansoor88-6/aw-sync-agent/internal/service"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	continuous bool
)

var rootCmd = &cobra.Command{
	Use:   "aw-sync [config-path]",
	Short: "Sync ActivityWatch data to the team analytics server",
	Long: `aw-sync reads events from the local ActivityWatch daemon, applies the
privacy rules and category rules, and uploads the result to the team server.

Without --continuous a single cycle runs and the exit code reports the outcome:
  0  success, skipped, or nothing to do
  1  server failure
  2  configuration error
  3  authentication failure`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to the JSON configuration file")
	rootCmd.Flags().BoolVar(&continuous, "continuous", false, "keep running and sync every sync_interval_minutes")

	rootCmd.AddCommand(statusCmd, checkCmd, decryptCmd, versionCmd)
}

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// loadConfig resolves the config path from the positional argument or --config
func loadConfig(args []string) (*config.Config, error) {
	path := configPath
	if len(args) > 0 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, withCode(service.ExitConfigError, err)
	}
	return cfg, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		code := service.ExitServerError
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		if exitErr == nil || exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}
