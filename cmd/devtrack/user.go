package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/web"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	userAddDisplayName string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long:  `Create and inspect DevTrack accounts directly against the storage backend.`,
}

var userAddCmd = &cobra.Command{
	Use:     "add EMAIL PASSWORD",
	Short:   "Create a local account",
	Example: `  devtrack -c config.yaml user add ada@example.com correct-horse --name "Ada"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userAddDisplayName, "name", "", "Display name")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	email, password := args[0], args[1]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if len(password) < web.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", web.MinPasswordLength)
	}

	passwordHash, err := web.HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  userAddDisplayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.Users().Upsert(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("Created user %s\n", email)
	fmt.Printf("ID: %s\n", user.ID)

	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	users, err := store.Users().List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-36s  %-30s  %-10s  %s\n", "ID", "EMAIL", "LOGIN", "LAST LOGIN")
	for _, u := range users {
		login := "local"
		if u.OAuthProvider != "" {
			login = u.OAuthProvider
		}
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-36s  %-30s  %-10s  %s\n", u.ID, u.Email, login, lastLogin)
	}

	return nil
}
