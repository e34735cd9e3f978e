package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/node.yaml"
	rootCmd = &cobra.Command{
		Use:   "gridnode",
		Short: "GridMind compute node CLI",
		Long: `CLI to run and inspect a GridMind compute node.

Such as "gridnode run" to start the node or "gridnode status" to inspect
its local database.
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "./config/node.yaml", "Path to config file")
}
