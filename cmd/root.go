/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/redis-performance/grpc-cache-loadtest/internal/config"
	"github.com/redis-performance/grpc-cache-loadtest/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information
var (
	gitSHA1  = "unknown"
	gitDirty = "unknown"
)

// SetVersionInfo sets the version information from main
func SetVersionInfo(sha, dirty string) {
	gitSHA1 = sha
	gitDirty = dirty
}

func printVersion(suffix string) {
	fmt.Printf("grpc-cache-loadtest%s\n", suffix)
	fmt.Printf("Git Commit: %s", gitSHA1)
	if gitDirty != "0" && gitDirty != "unknown" {
		fmt.Printf(" (dirty)")
	}
	fmt.Printf("\n")
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including git commit hash",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("")
	},
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "grpc-cache-loadtest",
	Short: "Load test a key/value cache service over gRPC",
	Long: `grpc-cache-loadtest drives a cache service with many concurrent virtual users.

Each iteration opens a connection, stores a key derived from the user and
iteration ids with its base64 text as the value, reads it back and checks
the value, deletes it for a fixed sample of users, and closes the
connection. The gRPC service is resolved through server reflection by
default; Redis and Momento targets run the same workflow natively.`,
	Run: func(cmd *cobra.Command, args []string) {
		if version, _ := cmd.Flags().GetBool("version"); version {
			printVersion("")
			return
		}
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig merges defaults, the --config file, CACHELOAD_* variables
// and the command's flags, then builds the logger. Configuration errors
// are fatal.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		logrus.Fatalf("%v", err)
	}
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		logrus.Fatalf("%v", err)
	}

	logger, err := logging.New(cfg.Output.LogLevel, cfg.Output.LogFormat)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return cfg, logger
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, toml or json); CACHELOAD_* env vars also apply")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}
