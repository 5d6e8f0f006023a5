package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/makeasinger/docindex/internal/config"
	"github.com/makeasinger/docindex/internal/ledger"
	"github.com/makeasinger/docindex/internal/middleware"
	"github.com/makeasinger/docindex/internal/status"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	out       io.Writer
	redisAddr string
	timeout   time.Duration
	cfg       *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Inspect and settle document job statuses",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			c.cfg = cfg
			if c.redisAddr == "" {
				c.redisAddr = cfg.Redis.Address()
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.PersistentFlags().StringVar(&c.redisAddr, "redis", "", "redis URL or host:port (defaults to configuration)")
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Second, "timeout for ledger operations")

	getCmd := &cobra.Command{
		Use:   "get job-id",
		Short: "Print the stored status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			return c.withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				st, err := l.Get(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, st)
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set job-id status",
		Short: "Request a status transition and print the status kept by the ledger",
		Long: `Request a status transition. The status is given in wire form:
Accepted, Done or "Error(code: message)". A settled job keeps its status.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			requested, err := status.Decode(args[1])
			if err != nil {
				return err
			}
			return c.withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				stored, err := l.Set(ctx, id, requested)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, stored)
				if !status.Equal(stored, requested) {
					fmt.Fprintf(cmd.ErrOrStderr(), "job already settled, %s not applied\n", requested)
				}
				return nil
			})
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token user-id",
		Short: "Issue an API token for submitting document jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.NewAuthMiddleware(c.cfg.JWT.Secret).GenerateToken(args[0], "")
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}

	rootCmd.AddCommand(getCmd, setCmd, tokenCmd)
	return rootCmd
}

func (c *cli) withLedger(parent context.Context, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	l, err := ledger.Connect(ctx, c.redisAddr)
	if err != nil {
		return err
	}
	defer l.Close()

	return fn(ctx, l)
}
