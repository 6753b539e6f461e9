package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"llamachat-hq/relay/pkg/cli"
	"llamachat-hq/relay/pkg/security/auth"
	"llamachat-hq/relay/pkg/server"
	"llamachat-hq/relay/pkg/storage"
)

var usersFlags struct {
	output   string
	password string
	admin    bool
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts in the store",
	Long: `Manage user accounts directly in the configured store.

These commands open the database themselves; with the sqlite drivers they
can run next to a live server.`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	Args:  cobra.NoArgs,
	RunE:  listUsers,
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user account",
	Long: `Create a user account. The first account in the store is always an
administrator.

Example:
  llamachat users create alice --password 's3cret' --admin`,
	Args: cobra.ExactArgs(1),
	RunE: createUser,
}

var usersSetQuotaCmd = &cobra.Command{
	Use:   "set-quota <username> <quota>",
	Short: "Set a user's request quota (0 means unlimited)",
	Args:  cobra.ExactArgs(2),
	RunE:  setQuota,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd, usersCreateCmd, usersSetQuotaCmd)

	usersListCmd.Flags().StringVarP(&usersFlags.output, "output", "o", "text", "output format: text, json, csv")
	usersCreateCmd.Flags().StringVarP(&usersFlags.password, "password", "p", "", "password for the new account (required)")
	usersCreateCmd.Flags().BoolVar(&usersFlags.admin, "admin", false, "grant administrator rights")
	_ = usersCreateCmd.MarkFlagRequired("password")
}

// withStore opens the configured store for one command.
func withStore(cmd *cobra.Command, name string, fn func(ctx context.Context, store storage.Store) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		return cli.NewCommandError(name, errors.New("the memory store does not persist; configure a sqlite driver"))
	}
	store, err := server.OpenStore(cfg.Storage)
	if err != nil {
		return cli.NewCommandError(name, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := fn(ctx, store); err != nil {
		return cli.NewCommandError(name, err)
	}
	return nil
}

func listUsers(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(usersFlags.output)
	if err != nil {
		return err
	}
	return withStore(cmd, "users list", func(ctx context.Context, store storage.Store) error {
		users, err := store.ListUsers(ctx)
		if err != nil {
			return err
		}

		table := &cli.Table{Headers: []string{"ID", "Username", "Admin", "Active", "Usage", "Quota", "Last Login"}}
		for _, u := range users {
			lastLogin := "never"
			if u.LastLogin != nil {
				lastLogin = u.LastLogin.UTC().Format(time.RFC3339)
			}
			table.Append(
				strconv.FormatInt(u.ID, 10),
				u.Username,
				strconv.FormatBool(u.IsAdmin),
				strconv.FormatBool(u.IsActive),
				strconv.Itoa(u.UsageCount),
				strconv.Itoa(u.Quota),
				lastLogin,
			)
		}
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
	})
}

func createUser(cmd *cobra.Command, args []string) error {
	username := args[0]
	if usersFlags.password == "" {
		return errors.New("--password must not be empty")
	}
	return withStore(cmd, "users create", func(ctx context.Context, store storage.Store) error {
		hash, err := auth.HashPassword(usersFlags.password)
		if err != nil {
			return err
		}
		user, err := store.CreateUser(ctx, username, hash)
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("user %q already exists", username)
		}
		if err != nil {
			return err
		}
		if usersFlags.admin && !user.IsAdmin {
			isAdmin := true
			if user, err = store.UpdateUser(ctx, user.ID, storage.UserUpdate{IsAdmin: &isAdmin}); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created user %s (id %d, admin=%t)\n", user.Username, user.ID, user.IsAdmin)
		return nil
	})
}

func setQuota(cmd *cobra.Command, args []string) error {
	username := args[0]
	quota, err := strconv.Atoi(args[1])
	if err != nil || quota < 0 {
		return fmt.Errorf("quota must be a non-negative integer, got %q", args[1])
	}
	return withStore(cmd, "users set-quota", func(ctx context.Context, store storage.Store) error {
		user, err := store.GetUserByUsername(ctx, username)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		if err != nil {
			return err
		}
		if _, err := store.UpdateUser(ctx, user.ID, storage.UserUpdate{Quota: &quota}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Quota for %s set to %d\n", username, quota)
		return nil
	})
}
