package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kart-io/assist-x/internal/knowledge"
	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/klog"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// Run is the CLI entrypoint. It returns a process exit code rather
// than calling os.Exit directly, so it stays testable.
func Run() int {
	opts := &Options{}
	root := &cobra.Command{
		Use:           "assist",
		Short:         "customer-service conversation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(opts),
		newReconcileCommand(opts),
		newReloadKnowledgeCommand(opts),
		newAggregateNowCommand(opts),
		newRetentionNowCommand(opts),
		newHealthCommand(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ce, ok := err.(configError); ok && ce.isConfig {
			return ExitConfig
		}
		return ExitError
	}
	return ExitOK
}

// configError marks an error from loading configuration or from wiring
// components in Build, so Run can map it to exit code 2.
type configError struct {
	err      error
	isConfig bool
}

func (c configError) Error() string { return c.err.Error() }

func buildFromFlags(opts *Options, fs *pflag.FlagSet) (*Deps, error) {
	cfg, err := opts.LoadConfig(fs)
	if err != nil {
		return nil, configError{err: err, isConfig: true}
	}
	deps, err := Build(cfg)
	if err != nil {
		return nil, configError{err: err, isConfig: true}
	}
	return deps, nil
}

func newServeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP/WebSocket gateway and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := deps.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("automigrate: %w", err)
			}
			return runServe(ctx, deps)
		},
	}
}

func runServe(ctx context.Context, deps *Deps) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	deps.Gateway.RegisterRoutes(router)

	errCh := make(chan error, 2)

	go func() {
		klog.Infow("listening", "addr", deps.Config.HTTPAddr)
		errCh <- router.Run(deps.Config.HTTPAddr)
	}()

	if deps.Redis != nil {
		mux := asynq.NewServeMux()
		mux.HandleFunc(TaskTypeDrainPendingName, deps.SyncEngine.DrainHandler())
		srv := asynq.NewServer(
			asynq.RedisClientOpt{Addr: deps.Redis.Options().Addr},
			asynq.Config{Concurrency: 10},
		)
		go func() {
			errCh <- srv.Run(mux)
		}()
		defer srv.Shutdown()
	}

	go runScheduler(ctx, deps)

	return <-errCh
}

// TaskTypeDrainPendingName mirrors syncengine.TaskTypeDrainPending;
// kept as a local constant so this file doesn't need the sync package
// just for the mux registration string.
const TaskTypeDrainPendingName = "sync:drain_pending"

// runScheduler runs hourly aggregation at H:05, daily aggregation and
// retention at 02:00, using a plain ticker loop rather than a cron
// library: asynq is already a direct dependency for task queuing, and
// these three jobs run on fixed intervals with no need for
// cron-expression flexibility.
func runScheduler(ctx context.Context, deps *Deps) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	lastHour := -1
	lastDay := -1
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Minute() == 5 && now.Hour() != lastHour {
				lastHour = now.Hour()
				runHourlyAggregation(ctx, deps, now)
			}
			if now.Hour() == 2 && now.Minute() == 0 && now.Day() != lastDay {
				lastDay = now.Day()
				runDailyAggregation(ctx, deps, now)
				runRetention(ctx, deps, now)
			}
		}
	}
}

func runHourlyAggregation(ctx context.Context, deps *Deps, now time.Time) {
	bucket := now.Add(-time.Hour).Truncate(time.Hour)
	for _, platform := range []model.Platform{model.PlatformWeb, model.PlatformWhatsApp, model.PlatformTest} {
		if err := deps.Metrics.AggregateHour(ctx, bucket, platform); err != nil {
			klog.Errorw("hourly aggregation failed", "platform", platform, "error", err.Error())
		}
	}
}

func runDailyAggregation(ctx context.Context, deps *Deps, now time.Time) {
	date := now.AddDate(0, 0, -1)
	for _, platform := range []model.Platform{model.PlatformWeb, model.PlatformWhatsApp, model.PlatformTest} {
		if err := deps.Metrics.AggregateDay(ctx, date, platform); err != nil {
			klog.Errorw("daily aggregation failed", "platform", platform, "error", err.Error())
		}
	}
}

func runRetention(ctx context.Context, deps *Deps, now time.Time) {
	if err := deps.Metrics.Retain(ctx, now); err != nil {
		klog.Errorw("retention failed", "error", err.Error())
	}
}

func newReconcileCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <kind>",
		Short: "reconcile the index store against the upstream catalog for one record kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			kind := model.Kind(args[0])
			if err := deps.SyncEngine.Reconcile(cmd.Context(), kind); err != nil {
				return fmt.Errorf("reconcile %s: %w", kind, err)
			}
			return nil
		},
	}
}

func newReloadKnowledgeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-knowledge <dir>",
		Short: "load knowledge-base markdown files from disk and upsert them into the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			records, err := knowledge.Load(args[0])
			if err != nil {
				return fmt.Errorf("load knowledge: %w", err)
			}
			if err := deps.SyncEngine.ApplyKnowledge(cmd.Context(), records); err != nil {
				return fmt.Errorf("apply knowledge: %w", err)
			}
			klog.Infow("reloaded knowledge base", "dir", args[0], "records", len(records))
			return nil
		},
	}
}

func newAggregateNowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate-now",
		Short: "run hourly and daily metrics aggregation immediately for the previous completed buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			now := time.Now()
			runHourlyAggregation(cmd.Context(), deps, now)
			runDailyAggregation(cmd.Context(), deps, now)
			return nil
		},
	}
}

func newRetentionNowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "retention-now",
		Short: "apply retention windows immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			return deps.Metrics.Retain(cmd.Context(), time.Now())
		},
	}
}

func newHealthCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "check database reachability and exit non-zero if it is unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildFromFlags(opts, cmd.Flags())
			if err != nil {
				return err
			}
			sqlDB, err := deps.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				return fmt.Errorf("database unreachable")
			}
			return nil
		},
	}
}
