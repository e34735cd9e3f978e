package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridmind/gridnode/core/nodemanager"
)

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the compute node",
		Long: `Initialize and run the compute node until it is told to stop.

Use --config=path-to-your-config-file. default is ./config/node.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				cancel()
			}()

			if err := nodemanager.RunWithConfig(ctx, config); err != nil {
				fmt.Fprintf(os.Stderr, "node exited with error: %v\n", err)
				os.Exit(1)
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
