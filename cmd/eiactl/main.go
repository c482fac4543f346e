// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// EIA — Operator CLI
//
// eiactl is the operational companion to the service: schema setup,
// config validation, ad-hoc scans, ledger inspection, dead-letter
// management, and opportunity review.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bambinounos/eia/internal/config"
	"github.com/bambinounos/eia/internal/ledger"
	"github.com/bambinounos/eia/internal/models"
	"github.com/bambinounos/eia/internal/opportunity"
	"github.com/bambinounos/eia/internal/queue"
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "eiactl",
		Short:         "Operate the EIA email intelligence service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")

	root.AddCommand(
		initDBCmd(),
		checkConfigCmd(),
		scanCmd(),
		ledgerCmd(),
		deadletterCmd(),
		opportunitiesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(configPath)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	return pool, nil
}

func openQueue(cfg *config.Config) (*queue.Queue, *redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	q := queue.New(rdb)
	if err := q.Ping(context.Background()); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return q, rdb, nil
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the ledger and opportunity schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := ledger.NewStore(ctx, pool); err != nil {
				return err
			}
			if _, err := opportunity.NewStore(ctx, pool); err != nil {
				return err
			}
			fmt.Println("database schema ready")
			return nil
		},
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate config.yaml and report the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "accounts\t%d\n", len(cfg.Accounts))
			for _, a := range cfg.Accounts {
				auth := "password"
				if a.OAuthTokenURL != "" {
					auth = "oauth2"
				}
				fmt.Fprintf(w, "  %s\t%s:%d ssl=%v auth=%s folders=%v every %s\n",
					a.Email, a.Host, a.Port, a.UseSSL, auth, a.Folders, a.PollInterval.Std())
			}
			fmt.Fprintf(w, "inference provider\t%s\n", cfg.Inference.Provider)
			fmt.Fprintf(w, "noise threshold\t%.2f\n", cfg.Pipeline.NoiseThreshold)
			fmt.Fprintf(w, "alert threshold\t%.2f (class %.2f / match %.2f)\n",
				cfg.Alerts.Threshold, cfg.Alerts.ClassWeight, cfg.Alerts.MatchWeight)
			fmt.Fprintf(w, "catalog\t%s (min similarity %.2f)\n",
				cfg.Matching.CatalogPath, cfg.Matching.MinSimilarity)
			fmt.Fprintf(w, "dedup window\t%s\n", cfg.Alerts.DedupWindow.Std())
			return w.Flush()
		},
	}
}

func scanCmd() *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "scan <account>",
		Short: "Enqueue an immediate poll for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q, rdb, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			account := args[0]
			var folders []string
			for _, a := range cfg.Accounts {
				if a.Email == account {
					folders = a.Folders
				}
			}
			if folders == nil {
				return fmt.Errorf("account %q not in configuration", account)
			}
			if folder != "" {
				folders = []string{folder}
			}
			for _, f := range folders {
				job := queue.NewJob(queue.KindPoll, account)
				job.Folder = f
				if err := q.Enqueue(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Printf("poll enqueued: %s/%s\n", account, f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "poll only this folder")
	return cmd
}

func ledgerCmd() *cobra.Command {
	var state string
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List ledger entries by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := ledger.NewStore(ctx, pool)
			if err != nil {
				return err
			}
			entries, err := store.ListByState(ctx, models.State(state), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tMESSAGE-ID\tFOLDER\tSTATE\tATTEMPTS\tUPDATED\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Account, e.MessageID, e.Folder, e.State, e.Attempts,
					e.UpdatedAt.Format(time.RFC3339), e.FailReason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", string(models.StateFailed), "ledger state to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func deadletterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and requeue dead-lettered jobs",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q, rdb, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			dead, err := q.ListDeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tACCOUNT\tMESSAGE-ID\tFAILED\tREASON")
			for _, d := range dead {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					d.Job.Kind, d.Job.Account, d.Job.MessageID,
					d.FailedAt.Format(time.RFC3339), d.Reason)
			}
			return w.Flush()
		},
	}
	list.Flags().Int64Var(&limit, "limit", 50, "maximum jobs")

	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "Requeue the oldest dead-lettered job with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q, rdb, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			job, err := q.RequeueDeadLetter(cmd.Context())
			if err != nil {
				return err
			}
			if job == nil {
				fmt.Println("dead-letter queue is empty")
				return nil
			}
			fmt.Printf("requeued %s job %s (message %s)\n", job.Kind, job.ID, job.MessageID)
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func opportunitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "opportunities",
		Aliases: []string{"opps"},
		Short:   "Review detected opportunities",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List opportunities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := opportunity.NewStore(ctx, pool)
			if err != nil {
				return err
			}
			opps, err := store.List(ctx, status, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCORE\tSTATUS\tSENDER\tDETECTED\tSUMMARY")
			for _, o := range opps {
				fmt.Fprintf(w, "%d\t%.2f\t%s\t%s\t%s\t%s\n",
					o.ID, o.CompositeScore, o.Status, o.Sender,
					o.DetectedAt.Format(time.RFC3339), o.Summary)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending_review, approved, discarded)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum opportunities")

	setStatus := func(use, short, status string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid opportunity id %q", args[0])
				}
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				pool, err := openPool(ctx, cfg)
				if err != nil {
					return err
				}
				defer pool.Close()

				store, err := opportunity.NewStore(ctx, pool)
				if err != nil {
					return err
				}
				if err := store.SetStatus(ctx, id, status); err != nil {
					return err
				}
				fmt.Printf("opportunity %d -> %s\n", id, status)
				return nil
			},
		}
	}

	cmd.AddCommand(list,
		setStatus("approve", "Mark an opportunity approved", models.StatusApproved),
		setStatus("discard", "Mark an opportunity discarded", models.StatusDiscarded),
	)
	return cmd
}
