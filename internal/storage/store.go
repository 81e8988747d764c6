package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, ephemeral deployments)
//   - "file": JSON snapshot + JSON Lines journal next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one persisted history entry. Data is opaque to storage
// (the engine stores a JSON-encoded notification).
type Record struct {
	ID   string
	At   time.Time
	Data []byte
}

// Store is the persistence API used by the settings store and the engine.
type Store interface {
	GetKV(ctx context.Context, key string) (value []byte, ok bool, err error)
	PutKV(ctx context.Context, key string, value []byte) error

	PutRecord(ctx context.Context, r Record) error
	DeleteRecords(ctx context.Context, ids []string) error
	// LoadRecords returns every record ordered by At ascending.
	LoadRecords(ctx context.Context) ([]Record, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
