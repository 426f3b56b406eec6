package main

import (
	"fmt"
	"os"
	"time"

	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the DevTrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cfg, err := config.Load(configPath)
	if err != nil {
		red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	green.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)
	fmt.Println()

	fmt.Printf("API:            %s:%d\n", cfg.Server.BindAddress, cfg.Server.Port)
	fmt.Printf("Metrics:        %s:%d\n", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	fmt.Printf("Base URL:       %s\n", cfg.Server.BaseURL)
	fmt.Printf("Storage:        %s (%s)\n", cfg.Storage.Type, cfg.Storage.Path)
	fmt.Printf("Active backend: %s\n", cfg.Storage.ActiveBackend)
	if cfg.Storage.ActiveBackend == "redis" {
		fmt.Printf("Redis:          %s:%d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	fmt.Printf("Timezone:       %s\n", cfg.Analytics.Timezone)
	fmt.Println()

	// Warnings for risky but valid settings
	if cfg.Auth.InitialPassword == "changeme" || cfg.Auth.InitialPassword == "password" {
		yellow.Fprintln(os.Stdout, "Warning: auth.initial_password is a well-known default")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		yellow.Fprintln(os.Stdout, "Warning: auth.jwt_secret is shorter than 32 characters")
	}
	if _, err := time.LoadLocation(cfg.Analytics.Timezone); err != nil {
		red.Fprintf(os.Stderr, "Invalid analytics.timezone: %v\n", err)
		return err
	}
	if _, err := time.Parse("15:04", cfg.Retention.DailyMaintenance); err != nil {
		red.Fprintf(os.Stderr, "Invalid retention.daily_maintenance (HH:MM expected): %v\n", err)
		return err
	}
	if cfg.Mail.Enabled && cfg.Mail.SMTPAddr == "" {
		yellow.Fprintln(os.Stdout, "Warning: mail is enabled without smtp_addr, messages will only be logged")
	}
	if !cfg.OAuth.GitHub.Enabled && !cfg.OAuth.Google.Enabled {
		fmt.Println("OAuth:          no providers enabled (local login only)")
	}

	return nil
}
