package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/check"
	"github.com/redis-performance/grpc-cache-loadtest/internal/config"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/redis-performance/grpc-cache-loadtest/internal/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a single iteration and print every step",
	Long: `Run exactly one iteration of the workflow for the given client and
iteration ids, printing each RPC with its status and latency and every check
outcome. Useful as a smoke test before a full run.

Examples:
  # Client 5 deletes its key (full cycle)
  grpc-cache-loadtest probe --client-id 5 --iteration-id 0

  # Client 3 leaves hello-3-2 in the cache (partial cycle)
  grpc-cache-loadtest probe --client-id 3 --iteration-id 2`,
	Run: func(cmd *cobra.Command, args []string) {
		if !runProbe(cmd) {
			os.Exit(1)
		}
	},
}

func runProbe(cmd *cobra.Command) bool {
	cfg, logger := loadConfig(cmd)
	clientID, _ := cmd.Flags().GetInt("client-id")
	iterationID, _ := cmd.Flags().GetInt64("iteration-id")
	if clientID < 1 {
		logrus.Fatalf("client id must be at least 1, got: %d", clientID)
	}
	if iterationID < 0 {
		logrus.Fatalf("iteration id must not be negative, got: %d", iterationID)
	}

	ctx := context.Background()
	if cfg.Target.Type == config.TargetMomento && cfg.Target.Momento.CreateCache {
		if err := target.EnsureMomentoCache(ctx, cfg.MomentoConfig()); err != nil {
			logrus.Fatalf("%v", err)
		}
	}

	it := workflow.New(cfg.Connector(), workflow.Settings{
		Address:   cfg.Target.Address,
		Options:   cfg.TargetOptions(),
		KeyPrefix: cfg.Workflow.KeyPrefix,
		OpTimeout: cfg.Target.OpTimeout,
		Deletion:  cfg.DeletionPolicy(),
	}, logrus.NewEntry(logger))

	cc := keyspace.ClientContext{ClientID: clientID, IterationID: iterationID}
	report, err := it.Run(ctx, cc)
	printProbeReport(cfg, report, err)

	return err == nil && check.AllPassed(report.Checks())
}

func printProbeReport(cfg *config.Config, report *workflow.Report, err error) {
	fmt.Printf("Target: %s %s\n", cfg.Target.Type, cfg.Target.Address)
	fmt.Printf("Client: %s  Key: %s  Value: %s\n", report.Context, report.Key, keyspace.Encode(report.Key))
	fmt.Printf("Connect: %s\n", report.ConnectLatency.Round(time.Microsecond))
	if target.IsConnectionError(err) {
		fmt.Printf("Connection failed: %v\n", err)
		return
	}

	for _, step := range report.Steps {
		fmt.Printf("%-6s status=%-16s latency=%s\n", step.Op, step.Status, step.Latency.Round(time.Microsecond))
		if step.Err != nil {
			fmt.Printf("       error: %v\n", step.Err)
		}
		for _, r := range step.Checks {
			line := fmt.Sprintf("       [%s] %s", r.Outcome, r.Name)
			if r.Err != nil {
				line += fmt.Sprintf(": %v", r.Err)
			}
			fmt.Println(line)
		}
	}
	fmt.Printf("Shape: %s (delete planned: %t)  Duration: %s\n",
		report.Shape(), report.DeletePlanned, report.Duration.Round(time.Microsecond))
}

func init() {
	rootCmd.AddCommand(probeCmd)

	config.TargetFlags(probeCmd.Flags())
	probeCmd.Flags().Int("client-id", 1, "Client id (1-based, as a VU number)")
	probeCmd.Flags().Int64("iteration-id", 0, "Iteration id (0-based)")
}
