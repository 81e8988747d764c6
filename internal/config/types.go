package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the daemon's file configuration. Durations are Go duration
// strings ("500ms", "10s", "720h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Source    SourceConfig    `json:"source"`
	Engine    EngineConfig    `json:"engine"`
	Presenter PresenterConfig `json:"presenter"`
	History   HistoryConfig   `json:"history"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the API listener.
//
// Security note: binding to a non-loopback address requires a token or
// allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8090"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls persistence of settings and history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

const (
	SourceHTTP = "http"
	SourceMock = "mock"
)

// SourceConfig selects the fetch collaborator. An empty kind disables polling.
type SourceConfig struct {
	Kind    string            `json:"kind"`
	URL     string            `json:"url,omitempty"`
	Token   string            `json:"token,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Mock    MockSourceConfig  `json:"mock,omitempty"`
}

type MockSourceConfig struct {
	PerPoll int   `json:"per_poll,omitempty"`
	Window  int   `json:"window,omitempty"`
	Seed    int64 `json:"seed,omitempty"`
}

// EngineConfig tunes the notification engine. The user-facing policy lives in
// the settings store, not here.
type EngineConfig struct {
	FetchTimeout   string `json:"fetch_timeout,omitempty"`
	PresentTimeout string `json:"present_timeout,omitempty"`
	PersistQueue   int    `json:"persist_queue,omitempty"`
	SettingsKey    string `json:"settings_key,omitempty"`
}

type PresenterConfig struct {
	DBus     DBusConfig      `json:"dbus"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type DBusConfig struct {
	Enabled bool   `json:"enabled"`
	AppName string `json:"app_name,omitempty"`
}

type TelegramConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token"`
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// HistoryConfig controls retention pruning. An empty retention keeps history
// forever.
type HistoryConfig struct {
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"` // default: "0 3 * * *"
	Timezone      string `json:"timezone,omitempty"`
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// Validate checks the fields that can be checked without touching the outside
// world. It reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)
	dur("source.timeout", cfg.Source.Timeout)
	dur("engine.fetch_timeout", cfg.Engine.FetchTimeout)
	dur("engine.present_timeout", cfg.Engine.PresentTimeout)
	dur("history.retention", cfg.History.Retention)

	if s := cfg.Storage; s != nil {
		dur("storage.busy_timeout", s.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Kind)) {
	case "", SourceMock:
	case SourceHTTP:
		if strings.TrimSpace(cfg.Source.URL) == "" {
			errs = append(errs, errors.New("source.url is required for kind http"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind: unknown kind %q", cfg.Source.Kind))
	}

	if cfg.Engine.PersistQueue < 0 {
		errs = append(errs, errors.New("engine.persist_queue must be >= 0"))
	}

	if tg := cfg.Presenter.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("presenter.telegram.token is required when enabled"))
		}
		if tg.ChatID == 0 {
			errs = append(errs, errors.New("presenter.telegram.chat_id is required when enabled"))
		}
		dur("presenter.telegram.retry_base", tg.RetryBase)
		dur("presenter.telegram.retry_max_delay", tg.RetryMaxDelay)
	}
	return errors.Join(errs...)
}
