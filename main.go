package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach-backend/internal/scheduler"
	"outreach-backend/pkg/errtrack"
	"outreach-backend/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "outreach",
		Short:        "Recruiter outreach backend",
		Long:         "Sends tracked outreach email, enforces per-recruiter cooldowns and reconciles recruiter replies.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "outreach %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func newServeCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler and push listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable in-process cron jobs (use /api/internal/* instead)")
	return cmd
}

func runServe(ctx context.Context, noScheduler bool) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer errtrack.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg, true)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return err
	}
	a, err := newApp(ctx, cfg, db)
	if err != nil {
		return err
	}

	if !noScheduler {
		sched, err := scheduler.New(a.poller, a.ledger, cfg.PollSchedule, cfg.SweepSchedule, 10*time.Minute)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	if push := a.startPushListener(ctx); push != nil {
		defer push.Close()
	}

	return a.handler().Start(ctx, ":"+cfg.Port)
}

func newPollCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one inbound reconciliation poll and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := commandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if email != "" {
				summary, err := a.poller.PollEmail(cmd.Context(), email)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			}
			summary, err := a.poller.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "poll only the mailbox with this address")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire cooldowns and send availability notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := commandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := a.ledger.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if _, err := openDatabase(cfg, true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// commandApp wires the services for a one-shot command.
func commandApp(ctx context.Context) (*app, func(), error) {
	cfg, err := bootstrap()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg, false)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, cfg, db)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		errtrack.Flush(2 * time.Second)
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
