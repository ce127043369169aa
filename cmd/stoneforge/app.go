package main

import (
	"fmt"
	"path/filepath"

	"github.com/stoneforge/stoneforge/internal/config"
	"github.com/stoneforge/stoneforge/internal/store"
)

// locateProject finds the enclosing project root and loads the
// effective configuration.
func locateProject() (string, *config.Config, error) {
	root, err := config.FindProjectRoot("")
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// openStore opens the configured element catalog and applies pending
// migrations. An empty database path selects the in-memory store.
func openStore(root string, cfg *config.Config) (store.Store, error) {
	path := cfg.Database.Path
	if path == "" {
		return store.NewMemory(), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
