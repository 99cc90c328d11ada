// Package plugin defines the contracts shared by every NetReach module:
// lifecycle, configuration, persistence, and the in-process event bus.
package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Plugin defines the interface that all NetReach modules must implement.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "reconcile", "recon").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init wires the plugin to its configuration section and shared dependencies.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop(ctx context.Context) error
}

// Dependencies are handed to each plugin at Init.
type Dependencies struct {
	Config Config
	Logger *zap.Logger
	Store  Store
	Bus    EventBus
}

// Config is the read-only view of a plugin's configuration section.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error
}

// Migration is a single schema step owned by a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the shared relational store.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}

// Event is a message published on the bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler receives bus events.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the in-process publish/subscribe channel between plugins.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
