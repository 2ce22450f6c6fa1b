package cmd

import (
	"fmt"

	"github.com/redis-performance/grpc-cache-loadtest/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration a run would use after merging defaults, the
--config file, CACHELOAD_* environment variables and flags. Secrets are
redacted. The output can be saved and passed back with --config.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig(cmd)
		out, err := cfg.Redacted().YAML()
		if err != nil {
			logrus.Fatalf("failed to render config: %v", err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)

	config.TargetFlags(configCmd.Flags())
	config.LoadFlags(configCmd.Flags())
}
