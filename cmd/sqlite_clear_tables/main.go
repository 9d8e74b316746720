package main

import (
	"context"
	"flag"
	"os"

	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("ARB_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("load config: %v", err)
	}
	path := cfg.Cache.SQLitePath
	store, err := sqlite.Open(path)
	if err != nil {
		logging.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if err := store.Clear(context.Background()); err != nil {
		logging.Fatalf("clear tables: %v", err)
	}
	logging.Infof("SQLite tables cleared (history kept) at %s", store.Path())
}
