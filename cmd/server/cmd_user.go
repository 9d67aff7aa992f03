package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		st, err := store.Open(&cfg.Database, log)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Store.Timeout)
		defer cancel()
		err = st.CreateUser(ctx, args[0], args[1])
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("user %q already exists", args[0])
		}
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
		return nil
	},
}
