package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/reward-tower/internal/classify"
	"github.com/devblac/reward-tower/internal/health"
	"github.com/devblac/reward-tower/internal/metrics"
	"github.com/devblac/reward-tower/internal/poller"
	"github.com/devblac/reward-tower/internal/scheduler"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagOnce    bool
	flagFrom    uint32
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run one poll iteration and exit")
	runCmd.Flags().Uint32Var(&flagFrom, "from", 0, "Rewind the cursor so polling resumes at this ledger")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index campaign collateral events and run maintenance jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mtr := metrics.Init()
		a, err := newApp(ctx, mtr)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		if flagFrom > 0 {
			if err := a.store.UpsertCursor(ctx, storage.CursorSourceID, uint64(flagFrom-1), ""); err != nil {
				return fmt.Errorf("rewind cursor: %w", err)
			}
			log.Info("cursor rewound", "resume_at", flagFrom)
		}

		classifier := classify.New(classify.Config{
			Window:  a.cfg.Poller.DedupeWindow,
			Clock:   a.clock,
			Durable: a.store,
			Metrics: mtr,
			Logger:  log,
		})
		p, err := poller.New(poller.Config{
			Node:        a.node,
			Campaigns:   a.registry,
			Classifier:  classifier,
			Ledger:      a.ledger,
			Cursors:     a.store,
			Interval:    a.cfg.Poller.Interval,
			PageLimit:   a.cfg.Poller.PageLimit,
			StartLedger: a.cfg.Poller.StartLedger,
			Clock:       a.clock,
			Metrics:     mtr,
			Logger:      log,
		})
		if err != nil {
			return err
		}

		if flagOnce {
			st, err := p.Init(ctx)
			if err != nil {
				return err
			}
			next, err := p.Step(ctx, st)
			if err != nil {
				mtr.PollError()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor %d -> %d (%d active campaign(s))\n", st.Cursor, next.Cursor, len(next.Campaigns))
			return nil
		}

		sched, err := scheduler.New(scheduler.Config{
			ExpireSpec: a.cfg.Schedule.ExpireCampaigns,
			PruneSpec:  a.cfg.Schedule.PruneProcessed,
			Retention:  a.cfg.Schedule.ProcessedRetention,
			Campaigns:  a.registry,
			Store:      a.store,
			Window:     classifier,
			Clock:      a.clock,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		if _, err := sched.ExpireNow(ctx); err != nil {
			log.Warn("initial campaign expiry failed", "error", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.Run(gctx) })
		g.Go(func() error { return sched.Run(gctx) })

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(a.node)
			srv := health.NewServer(flagHealth, health.Checker{
				DBPing:   a.store.Ping,
				RPCPing:  rpcChecker.Ping,
				Balances: a.ledger.Balances,
			})
			log.Info("health check enabled", "addr", flagHealth)
			g.Go(func() error { return health.Run(gctx, srv) })
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			log.Info("metrics enabled", "addr", flagMetrics)
			g.Go(func() error { return health.Run(gctx, srv) })
		}

		return g.Wait()
	},
}
