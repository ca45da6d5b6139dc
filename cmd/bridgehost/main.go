package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/tomyedwab/dbbridge/audit"
	"github.com/tomyedwab/dbbridge/bridge"
	"github.com/tomyedwab/dbbridge/driver"
	"github.com/tomyedwab/dbbridge/loopback"
	"github.com/tomyedwab/dbbridge/wasmhost"
)

func main() {
	wasmFile := flag.String("wasm", "", "Path to the WASM guest to run")
	dbPath := flag.String("db", "./dbbridge.db", "Path to the SQLite database file")
	databaseName := flag.String("database", "", "Database to create before running the guest")
	pulse := flag.Duration("pulse", 5*time.Second, "Session pulse interval")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	auditRetention := flag.Duration("audit-retention", 7*24*time.Hour, "Delete audit events older than this")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *wasmFile == "" {
		logger.Error("WASM file path must be provided via -wasm flag")
		os.Exit(1)
	}
	wasmBytes, err := os.ReadFile(*wasmFile)
	if err != nil {
		logger.Error("Failed to read WASM file", "path", *wasmFile, "error", err)
		os.Exit(1)
	}

	db, err := sqlx.Connect("sqlite3", *dbPath+"?_busy_timeout=5000")
	if err != nil {
		logger.Error("Failed to connect to database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	server, err := loopback.NewServer(db, loopback.Config{Logger: logger})
	if err != nil {
		logger.Error("Failed to start loopback server", "error", err)
		os.Exit(1)
	}
	if *databaseName != "" {
		err := server.CreateDatabase(ctx, *databaseName)
		if err != nil && !errors.Is(err, loopback.ErrDatabaseExists) {
			logger.Error("Failed to create database", "database", *databaseName, "error", err)
			os.Exit(1)
		}
	}

	auditLog, err := audit.NewLogger(db)
	if err != nil {
		logger.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	if pruned, err := auditLog.DeleteOldEvents(*auditRetention); err != nil {
		logger.Warn("Failed to prune audit events", "error", err)
	} else if pruned > 0 {
		logger.Info("Pruned audit events", "count", pruned)
	}

	b := bridge.New(bridge.Config{Logger: logger})
	databases := b.DatabaseManagerNew(server, driver.Config{
		Logger:        logger,
		Recorder:      auditLog,
		PulseInterval: *pulse,
	})
	defer b.DatabaseManagerFree(databases)

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	host := wasmhost.New(b, databases, wasmhost.Config{Logger: logger})
	if _, err := host.Instantiate(ctx, r); err != nil {
		logger.Error("Failed to instantiate host module", "error", err)
		os.Exit(1)
	}

	if err := host.Run(ctx, r, wasmBytes); err != nil {
		logger.Error("Guest failed", "error", err)
		os.Exit(1)
	}

	if leaked := b.Handles().Len() - 1; leaked > 0 {
		logger.Warn("Guest exited with live handles", "count", leaked)
	}
	logger.Info("Guest finished")
}
