/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis-performance/grpc-cache-loadtest/internal/config"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/runner"
	"github.com/redis-performance/grpc-cache-loadtest/internal/stats"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/redis-performance/grpc-cache-loadtest/internal/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the load test",
	Long: `Run the cache workflow with a constant number of virtual users for a fixed duration.

Every virtual user repeatedly connects, sets a key, gets it back, checks the
value, deletes it when its id is selected by the deletion policy, and closes
the connection. Progress is printed every second; a summary with check
results and per-operation latency percentiles is printed at the end.

The command exits with status 1 when any check failed or any iteration
ended in a connection or RPC error.

Examples:
  # 100 VUs for 60s against a local plaintext server with reflection
  grpc-cache-loadtest run

  # 20 VUs for 5 minutes against a TLS endpoint, compiled-in schema
  grpc-cache-loadtest run -a cache.example.com:443 --plaintext=false --service-discovery=false -c 20 -d 5m

  # Same workflow against Redis, logging metrics to CSV and Prometheus
  grpc-cache-loadtest run -t redis -a redis://localhost:6379 --csv-output run.csv --metrics-addr :9090`,
	Run: func(cmd *cobra.Command, args []string) {
		failed, err := runLoadTest(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if failed {
			os.Exit(1)
		}
	},
}

// startProfiling starts the requested profilers and returns a func that
// writes them out.
func startProfiling(cfg *config.Config, log *logrus.Entry) (func(), error) {
	out := cfg.Output
	var stops []func()

	if out.PprofAddr != "" {
		go func() {
			log.Infof("starting pprof HTTP server on http://%s/debug/pprof/", out.PprofAddr)
			if err := http.ListenAndServe(out.PprofAddr, nil); err != nil {
				log.WithError(err).Warn("pprof HTTP server failed")
			}
		}()
	}

	if out.CPUProfile != "" {
		f, err := os.Create(out.CPUProfile)
		if err != nil {
			return nil, fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("could not start CPU profile: %w", err)
		}
		log.Infof("CPU profiling enabled, writing to: %s", out.CPUProfile)
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	if out.MemProfile != "" {
		stops = append(stops, func() {
			f, err := os.Create(out.MemProfile)
			if err != nil {
				log.WithError(err).Warn("could not create memory profile")
				return
			}
			defer f.Close()

			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.WithError(err).Warn("could not write memory profile")
			} else {
				log.Infof("memory profile written to: %s", out.MemProfile)
			}
		})
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}, nil
}

// runLoadTest returns whether the run breached its thresholds.
func runLoadTest(cmd *cobra.Command) (bool, error) {
	printVersion(" run")
	fmt.Println()

	cfg, logger := loadConfig(cmd)
	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)

	stopProfiling, err := startProfiling(cfg, log)
	if err != nil {
		return false, err
	}
	defer stopProfiling()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws := stats.NewWorkloadStats()
	reporter := &progressReporter{
		stats:    ws,
		vus:      cfg.Load.VUs,
		duration: cfg.Load.Duration,
		quiet:    cfg.Output.Quiet,
		tcp:      stats.NewTCPMonitor(cfg.TargetPorts()...),
		log:      log,
	}

	if cfg.Output.CSV != "" {
		csvLogger, err := stats.NewCSVLogger(cfg.Output.CSV)
		if err != nil {
			return false, err
		}
		defer csvLogger.Close()
		reporter.csv = csvLogger
		fmt.Printf("Logging metrics to: %s\n", cfg.Output.CSV)
	}

	if cw := cfg.Output.CloudWatch; cw.Enabled {
		emitter, err := stats.NewCloudWatchEmitter(ctx, cw.Region, cw.Namespace, cfg.Target.Type, runID, log)
		if err != nil {
			log.WithError(err).Warn("failed to initialize CloudWatch, continuing without it")
		} else {
			reporter.cloudwatch = emitter
			fmt.Printf("CloudWatch metrics enabled: region=%s, namespace=%s\n", cw.Region, cw.Namespace)
		}
	}

	// Exporters keep serving through the graceful stop and the summary.
	exportCtx, stopExport := context.WithCancel(context.Background())
	defer stopExport()
	if cfg.Output.MetricsAddr != "" {
		go func() {
			if err := stats.ServeMetrics(exportCtx, cfg.Output.MetricsAddr, ws, log); err != nil {
				log.WithError(err).Warn("metrics server failed")
			}
		}()
	}
	go reporter.tcp.Start(exportCtx)

	// Create the cache once upfront rather than from every VU.
	if cfg.Target.Type == config.TargetMomento && cfg.Target.Momento.CreateCache {
		if err := target.EnsureMomentoCache(ctx, cfg.MomentoConfig()); err != nil {
			return false, err
		}
	}

	it := workflow.New(cfg.Connector(), workflow.Settings{
		Address:   cfg.Target.Address,
		Options:   cfg.TargetOptions(),
		KeyPrefix: cfg.Workflow.KeyPrefix,
		OpTimeout: cfg.Target.OpTimeout,
		Deletion:  cfg.DeletionPolicy(),
	}, log)

	printRunHeader(cfg)
	log.WithFields(logrus.Fields{"vus": cfg.Load.VUs, "duration": cfg.Load.Duration}).Info("starting load")

	reportCtx, stopReport := context.WithCancel(context.Background())
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		reporter.Run(reportCtx)
	}()

	summary, err := runner.Run(ctx, cfg.RunnerOptions(), func(ctx context.Context, cc keyspace.ClientContext) {
		report, err := it.Run(ctx, cc)
		ws.RecordIteration(ctx, report, err)
	})
	stopReport()
	<-reportDone
	if err != nil {
		return false, err
	}

	if summary.Cancelled {
		fmt.Println("\nReceived interrupt signal. Stopped workload, printing summary...")
	}
	if !cfg.Output.Quiet {
		fmt.Print("\r" + strings.Repeat(" ", 150) + "\r")
	}
	printFinalResults(ws, summary)
	log.WithFields(logrus.Fields{
		"iterations":  summary.Iterations,
		"interrupted": summary.Interrupted,
		"elapsed":     summary.Elapsed.Round(time.Millisecond),
	}).Info("load finished")

	return ws.Failed(), nil
}

func printRunHeader(cfg *config.Config) {
	fmt.Printf("Starting %s load test...\n", cfg.Target.Type)
	if cfg.Target.Type != config.TargetMomento {
		fmt.Printf("Target: %s (plaintext=%t, service discovery=%t)\n",
			cfg.Target.Address, cfg.Target.Plaintext, cfg.Target.ServiceDiscovery)
	} else {
		fmt.Printf("Target: momento cache %q\n", cfg.Target.Momento.CacheName)
	}
	fmt.Printf("VUs: %d\n", cfg.Load.VUs)
	fmt.Printf("Duration: %s (graceful stop %s)\n", cfg.Load.Duration, cfg.Load.GracefulStop)
	fmt.Printf("Deletion: client id %% %d == %d\n", cfg.Workflow.DeleteModulus, cfg.Workflow.DeleteRemainder)
	if cfg.Load.RPS > 0 {
		fmt.Printf("Rate limit: %d iterations/s total (%.2f per VU)\n", cfg.Load.RPS, float64(cfg.Load.RPS)/float64(cfg.Load.VUs))
	} else {
		fmt.Printf("Rate limit: unlimited\n")
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(runCmd)

	config.TargetFlags(runCmd.Flags())
	config.LoadFlags(runCmd.Flags())
}
