package cli

import (
	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Declarative EKS web stacks",
	Long: `Gantry provisions an opinionated web application stack on Amazon EKS
from a single settings file: networking, cluster, ingress, TLS, and the
application workloads, planned and applied as one resource graph.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
