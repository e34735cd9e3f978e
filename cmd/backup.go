package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridmind/gridnode/core/backup"
	configpkg "github.com/gridmind/gridnode/core/config"
	"github.com/gridmind/gridnode/pkg/logger"
	"github.com/gridmind/gridnode/storage"
)

var (
	backupDir string

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Take a one-shot database snapshot",
		Long:  `Snapshot the node's local database into a timestamped backup file. The node must not be running.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := configpkg.Load(config)
			if err != nil {
				fmt.Printf("❌ Cannot load config %s: %v\n", config, err)
				os.Exit(1)
			}

			dir := backupDir
			if dir == "" {
				dir = cfg.BackupDir
			}
			if dir == "" {
				fmt.Printf("❌ No backup directory, pass --dir or set backup_dir in the config\n")
				os.Exit(1)
			}

			db, err := storage.NewWithPath(cfg.DbPath)
			if err != nil {
				fmt.Printf("❌ Cannot open database: %v\n", err)
				fmt.Printf("   💡 Make sure the node is not running\n")
				os.Exit(1)
			}
			defer db.Close()

			backupFile, err := backup.NewService(logger.NewNoOpLogger(), db, dir).PerformBackup()
			if err != nil {
				fmt.Printf("❌ Backup failed: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("✅ Backup written to %s\n", backupFile)
		},
	}
)

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Directory to write the snapshot to (defaults to backup_dir from the config)")
	rootCmd.AddCommand(backupCmd)
}
