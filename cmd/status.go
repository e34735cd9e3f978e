package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configpkg "github.com/gridmind/gridnode/core/config"
	"github.com/gridmind/gridnode/core/eventqueue"
	"github.com/gridmind/gridnode/core/nodemanager"
	"github.com/gridmind/gridnode/core/taskengine"
	"github.com/gridmind/gridnode/storage"
)

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Display node status",
		Long:  `Display the node's lifecycle status and task counts from its local database`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := configpkg.Load(config)
			if err != nil {
				fmt.Printf("❌ Cannot load config %s: %v\n", config, err)
				os.Exit(1)
			}

			fmt.Printf("📊 Node Status Report\n")
			fmt.Printf("=====================\n\n")

			db, err := storage.NewWithPath(cfg.DbPath)
			if err != nil {
				fmt.Printf("❌ Cannot open database: %v\n", err)
				fmt.Printf("   💡 Make sure the node has been started at least once, and is not running now\n")
				os.Exit(1)
			}
			defer db.Close()
			fmt.Printf("💾 Database path: %s\n\n", db.DbPath())

			state, err := nodemanager.NewBadgerNodeStateCache(db).Get()
			if err != nil {
				fmt.Printf("❌ Cannot read node state: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("🔄 Lifecycle status: %s", state.Status)
			if !state.UpdatedAt.IsZero() {
				fmt.Printf(" (since %s)", state.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			}
			fmt.Printf("\n\n")

			queued, err := eventqueue.PendingEventCount(db)
			if err != nil {
				fmt.Printf("❌ Cannot count queued events: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("📨 Queued events: %d\n\n", queued)

			open, err := taskengine.NewBadgerTaskStateCache(db).ListNonTerminal()
			if err != nil {
				fmt.Printf("❌ Cannot list tasks: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("📋 Open tasks: %d\n", len(open))
			for i, task := range open {
				if i >= 10 {
					fmt.Printf("   ... and %d more tasks\n", len(open)-10)
					break
				}
				fmt.Printf("   %d. task %d  status=%s step=%d retries=%d\n",
					i+1, task.TaskID, task.Status, task.StepCursor, task.RetryCount)
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(statusCmd)
}
