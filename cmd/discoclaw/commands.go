package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DiscoClaw/discoclaw/internal/coordinator"
	"github.com/DiscoClaw/discoclaw/internal/daemon"
	"github.com/DiscoClaw/discoclaw/internal/directory"
	"github.com/DiscoClaw/discoclaw/internal/engine"
	"github.com/DiscoClaw/discoclaw/internal/events"
	"github.com/DiscoClaw/discoclaw/internal/filehost"
	"github.com/DiscoClaw/discoclaw/internal/lock"
	"github.com/DiscoClaw/discoclaw/internal/logging"
	"github.com/DiscoClaw/discoclaw/internal/setup"
	"github.com/DiscoClaw/discoclaw/internal/status"
	"github.com/DiscoClaw/discoclaw/internal/store"
	"github.com/DiscoClaw/discoclaw/internal/tagmap"
)

var initContainer string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a discoclaw base directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setup.Run(baseDir, initContainer); err != nil {
			return err
		}
		fmt.Printf("initialized %s\n", baseDir)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := log.New(os.Stderr, "", 0)
		logLevel := logging.ParseLevel(cfg.Logging.Level)

		bus := events.NewBus(0)
		defer bus.Close()
		taskStore := store.NewYAMLStore(filepath.Join(baseDir, cfg.Store.Path), bus)
		tags := tagmap.NewReloader(filepath.Join(baseDir, cfg.Tags.Path), filepath.Join(baseDir, "quarantine"), nil)
		threads := filehost.New(filepath.Join(baseDir, "threads.yaml"), cfg.Forum.Container)

		eng := engine.New(taskStore, threads, engine.NoInFlight{}, lock.NewRegistry(), tags, cfg, logger, logLevel)
		cache := directory.NewCache(threads, cfg.Forum.Container)
		coord := coordinator.New(eng, tags, cache, cfg, logger, logLevel)
		defer coord.Close()

		res, err := coord.Sync(context.Background(), nil)
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Println("sync coalesced into an active run")
			return nil
		}

		fmt.Printf("run %s: created=%d statuses=%d names=%d starters=%d tags=%d archived=%d reconciled=%d orphans=%d deferred=%d warnings=%d\n",
			res.RunID, res.ThreadsCreated, res.StatusesUpdated, res.EmojisUpdated,
			res.StarterMessagesUpdated, res.TagsUpdated, res.ThreadsArchived,
			res.ThreadsReconciled, res.OrphanThreadsFound, res.ClosesDeferred, res.Warnings)
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := daemon.New(baseDir, cfg, nil, engine.NoInFlight{})
		if err != nil {
			return err
		}
		return d.Run()
	},
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := status.Read(filepath.Join(baseDir, "status.yaml"))
		if err != nil {
			return err
		}
		return status.Render(s, os.Stdout, statusJSON)
	},
}

func init() {
	initCmd.Flags().StringVar(&initContainer, "container", "", "Forum container name or ID")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}
