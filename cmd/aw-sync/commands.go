package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Mansoor88-6/aw-sync-agent/internal/checkpoint"
	"Mansoor88-6/aw-sync-agent/internal/client"
	"Mansoor88-6/aw-sync-agent/internal/privacy"
	"Mansoor88-6/aw-sync-agent/internal/service"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the result of the last sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		status, err := checkpoint.ReadStatusFile(cfg.StatusFilePath())
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No sync has run yet")
			return nil
		}
		if err != nil {
			return withCode(service.ExitServerError, err)
		}

		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and test both connections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Configuration valid (%s)\n", configPath)
		fmt.Printf("  API key from %s, hash %s\n", cfg.APIKeySource(), client.KeyHash(cfg.APIKey))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return withCode(service.ExitServerError, err)
		}
		defer a.Close()

		info, err := a.source.Ping(ctx)
		if err != nil {
			fmt.Printf("✗ ActivityWatch unreachable at %s: %v\n", cfg.ActivityWatchURL, err)
		} else {
			fmt.Printf("✓ ActivityWatch %s on %s\n", info.Version, info.Hostname)
		}

		resp, err := a.uploader.FetchCategories(ctx, cfg.UserInfo.Email)
		if err != nil {
			fmt.Printf("✗ Server check failed: %v\n", err)
			var authErr *client.AuthError
			if errors.As(err, &authErr) {
				return withCode(service.ExitAuthError, nil)
			}
			return withCode(service.ExitServerError, nil)
		}
		fmt.Printf("✓ Server reachable, %d categories for team %q\n", len(resp.Categories), resp.TeamID)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <token>",
	Short: "Decrypt a value redacted in encrypt mode using the local key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !privacy.IsEncrypted(args[0]) {
			return withCode(service.ExitServerError, privacy.ErrNotEncrypted)
		}

		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return withCode(service.ExitServerError, err)
		}
		defer a.Close()

		cipher, err := a.cipher(ctx, false)
		if err != nil {
			return withCode(service.ExitServerError, err)
		}
		plain, err := cipher.Decrypt(args[0])
		if err != nil {
			return withCode(service.ExitServerError, err)
		}
		fmt.Println(plain)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aw-sync", version)
	},
}
