package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/assign"
	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/health"
	"github.com/stoneforge/stoneforge/internal/id"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/merge"
	"github.com/stoneforge/stoneforge/internal/metrics"
	"github.com/stoneforge/stoneforge/internal/registry"
	"github.com/stoneforge/stoneforge/internal/session"
	"github.com/stoneforge/stoneforge/internal/worktree"
)

var (
	runMergeInterval time.Duration
	runMetricsAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the health and merge stewards",
	Long: `Run both stewards until interrupted.

The health steward scans running agents on its configured interval
and intervenes on silent, crashed or error-looping agents. The merge
steward periodically sweeps tasks awaiting merge through the test
gate and onto the target branch.

Examples:
  stoneforge run
  stoneforge run --merge-interval 5m
  stoneforge run --metrics-addr :9090   # expose Prometheus metrics`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runMergeInterval, "merge-interval", 2*time.Minute, "How often to sweep tasks awaiting merge")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
}

func runRun(cmd *cobra.Command, args []string) error {
	root, cfg, err := locateProject()
	if err != nil {
		return err
	}
	healthCfg, err := cfg.HealthConfig()
	if err != nil {
		return err
	}
	mergeCfg, err := cfg.MergeConfig()
	if err != nil {
		return err
	}

	st, err := openStore(root, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.NewDebugLoggerForProject(root)
	defer log.Close()

	notifier := dispatch.NewLogNotifier(log)
	agents := registry.New(st)

	sessions := session.NewLocalManager()
	watcher, err := session.NewActivityWatcher(sessions)
	if err != nil {
		log.Errorf("session activity watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	assigner := assign.NewService(st, agents,
		assign.WithNotifier(notifier),
		assign.WithLogger(log),
		assign.WithWorktreeRoot(cfg.Worktrees.Root),
	)

	healthSteward := health.NewSteward(healthCfg, agents, sessions, assigner,
		health.WithNotifier(notifier),
		health.WithLogger(log),
		health.WithMetrics(metrics.Default()),
	)

	trees := worktree.NewManager(root)
	mergeSteward := merge.NewSteward(mergeCfg, st, trees, id.New(cfg.IDGen.Prefix),
		merge.WithNotifier(notifier),
		merge.WithLogger(log),
		merge.WithMetrics(metrics.Default()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: runMetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer server.Close()
		fmt.Printf("Serving metrics on %s/metrics\n", runMetricsAddr)
	}

	healthSteward.Start(ctx)
	defer healthSteward.Stop()

	fmt.Printf("Stewards running (health every %s, merge sweep every %s). Ctrl-C to stop.\n",
		healthCfg.CheckInterval, runMergeInterval)

	ticker := time.NewTicker(runMergeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-ticker.C:
			batch, err := mergeSteward.ProcessAllPending(ctx)
			if err != nil {
				log.Errorf("merge sweep: %v", err)
				continue
			}
			if batch.TotalProcessed > 0 {
				fmt.Printf("Merge sweep: %d processed, %d merged, %d errors\n",
					batch.TotalProcessed, batch.MergedCount, batch.ErrorCount)
			}
		}
	}
}
