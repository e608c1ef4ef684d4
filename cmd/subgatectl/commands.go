package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"subgate/internal/api/dto"
	"subgate/internal/app"
	"subgate/internal/config"
	"subgate/pkg/hash"
	"subgate/pkg/jwt"
)

func plansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plans with configured prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := app.NewCatalog(cfg)
			if err != nil {
				return err
			}
			for _, p := range catalog.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %8d  %s\n", p.ID, p.PriceMinor, p.Label)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := jwt.GenerateToken(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for none")
	return cmd
}

func hashpwCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hashpw PASSWORD",
		Short: "Print a bcrypt hash for METRICS_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashed, err := hash.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user is required")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Engine.Status(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.NewStatusResponse(view))
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check every pending transaction once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Poller.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set; the CLI needs the shared store")
	}
	return app.New(cmd.Context(), cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
