package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/setup"
)

const version = "1.0.0"

var baseDir string

var rootCmd = &cobra.Command{
	Use:   "discoclaw",
	Short: "Keeps forum threads in sync with the task store",
	Long: `discoclaw maintains eventual consistency between a task record store
and the forum threads that mirror each task's lifecycle: it creates missing
threads, converges their names, tags and starter messages, and archives
threads of closed tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&baseDir, "dir", "d", ".", "Base directory holding discoclaw.yaml")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the discoclaw version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("discoclaw %s\n", version)
	},
}

// loadConfig reads the base directory's config file.
func loadConfig() (model.Config, error) {
	return model.LoadConfig(filepath.Join(baseDir, setup.ConfigFileName))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
