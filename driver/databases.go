// Package driver manages the client side of sessions and transactions: their
// creation, transparent reopening after server-side invalidation, and
// release.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultPulseInterval        = 5 * time.Second
	defaultReopenAttempts       = 3
	defaultReopenBackoffInitial = 100 * time.Millisecond
	defaultReopenBackoffMax     = 2 * time.Second
)

// Config holds the settings shared by every session of a DatabaseManager.
type Config struct {
	Logger               *slog.Logger  // Optional, defaults to slog.Default()
	Recorder             EventRecorder // Optional, events are dropped when nil
	PulseInterval        time.Duration // Optional, defaults to 5s
	ReopenAttempts       int           // Optional, defaults to 3
	ReopenBackoffInitial time.Duration // Optional, defaults to 100ms
	ReopenBackoffMax     time.Duration // Optional, defaults to 2s
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.PulseInterval == 0 {
		c.PulseInterval = defaultPulseInterval
	}
	if c.ReopenAttempts == 0 {
		c.ReopenAttempts = defaultReopenAttempts
	}
	if c.ReopenBackoffInitial == 0 {
		c.ReopenBackoffInitial = defaultReopenBackoffInitial
	}
	if c.ReopenBackoffMax == 0 {
		c.ReopenBackoffMax = defaultReopenBackoffMax
	}
	return c
}

// DatabaseManager resolves databases by name on the server behind a
// Transport. It is shared by every session opened through it and is never
// consumed by them.
type DatabaseManager struct {
	transport Transport
	config    Config
	logger    *slog.Logger
}

// NewDatabaseManager creates a DatabaseManager. Zero fields of config take
// their defaults.
func NewDatabaseManager(transport Transport, config Config) *DatabaseManager {
	config = config.withDefaults()
	return &DatabaseManager{
		transport: transport,
		config:    config,
		logger:    config.Logger.With("component", "DatabaseManager"),
	}
}

// Contains reports whether the named database exists.
func (m *DatabaseManager) Contains(ctx context.Context, name string) (bool, error) {
	exists, err := m.transport.DatabaseExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to look up database %q: %w", name, err)
	}
	return exists, nil
}

// Get resolves the named database. It fails with ErrDatabaseNotFound when the
// server does not know it.
func (m *DatabaseManager) Get(ctx context.Context, name string) (*Database, error) {
	exists, err := m.Contains(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	return &Database{name: name, manager: m}, nil
}

// Database is a resolved reference to one database on the server.
type Database struct {
	name    string
	manager *DatabaseManager
}

func (d *Database) Name() string {
	return d.name
}
