// Package setup handles discoclaw project initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DiscoClaw/discoclaw/internal/model"
	"github.com/DiscoClaw/discoclaw/internal/yamlutil"
)

const ConfigFileName = "discoclaw.yaml"

// Run scaffolds a discoclaw base directory: config, tag map, empty task
// store, and the working subdirectories. It refuses to overwrite an
// existing config.
func Run(baseDir, container string) error {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	for _, d := range []string{"logs", "locks", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := model.DefaultConfig()
	cfg.Forum.Container = container
	if err := yamlutil.AtomicWrite(configPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	tagsPath := filepath.Join(absDir, cfg.Tags.Path)
	if _, err := os.Stat(tagsPath); os.IsNotExist(err) {
		tags := map[string]any{
			"version": 1,
			"tags": map[string]string{
				string(model.StatusOpen):       "",
				string(model.StatusInProgress): "",
				string(model.StatusBlocked):    "",
				string(model.StatusClosed):     "",
			},
		}
		if err := yamlutil.AtomicWrite(tagsPath, tags); err != nil {
			return fmt.Errorf("write tag map: %w", err)
		}
	}

	storePath := filepath.Join(absDir, cfg.Store.Path)
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		empty := map[string]any{"version": 1, "tasks": []any{}}
		if err := yamlutil.AtomicWrite(storePath, empty); err != nil {
			return fmt.Errorf("write task store: %w", err)
		}
	}

	return nil
}
