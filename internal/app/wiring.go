package app

import (
	"strings"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/config"
	"github.com/schuttebj/ampro-platform-sub001/internal/history"
	"github.com/schuttebj/ampro-platform-sub001/internal/httpapi"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
	"github.com/schuttebj/ampro-platform-sub001/internal/presenter"
	"github.com/schuttebj/ampro-platform-sub001/internal/source"
	"github.com/schuttebj/ampro-platform-sub001/internal/storage"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	busy := cfg.Storage.BusyTimeoutDuration()
	if busy <= 0 && (driver == "sqlite" || driver == "sqlite3") {
		busy = time.Second
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Storage.Path), BusyTimeout: busy}, true
}

func mapEngineConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		FetchTimeout:   cfg.Engine.FetchTimeoutDuration(),
		PresentTimeout: cfg.Engine.PresentTimeoutDuration(),
		PersistQueue:   cfg.Engine.PersistQueue,
	}
}

// buildFetcher returns nil when no source is configured; the engine then
// never polls.
func buildFetcher(cfg config.SourceConfig, clk clock.Clock, log logx.Logger) (notifier.Fetcher, error) {
	switch cfg.KindNormalized() {
	case config.SourceHTTP:
		return source.NewHTTP(source.HTTPConfig{
			URL:     cfg.URL,
			Token:   cfg.Token,
			Timeout: cfg.TimeoutDuration(),
			Headers: cfg.Headers,
		}, log)
	case config.SourceMock:
		return source.NewMock(source.MockConfig{
			PerPoll: cfg.Mock.PerPoll,
			Window:  cfg.Mock.Window,
			Seed:    cfg.Mock.Seed,
		}, clk), nil
	default:
		return nil, nil
	}
}

// presenters holds the desktop collaborators that own resources.
type presenters struct {
	dbus     *presenter.DBus
	telegram *presenter.Telegram
}

func (p presenters) combined() presenter.Presenter {
	var m presenter.Multi
	if p.dbus != nil {
		m = append(m, p.dbus)
	}
	if p.telegram != nil {
		m = append(m, p.telegram)
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	default:
		return m
	}
}

func buildPresenters(cfg config.PresenterConfig, log logx.Logger) (presenters, error) {
	var out presenters
	if cfg.DBus.Enabled {
		name := strings.TrimSpace(cfg.DBus.AppName)
		if name == "" {
			name = "notifyd"
		}
		out.dbus = presenter.NewDBus(name, log.With(logx.String("comp", "presenter.dbus")))
	}
	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		base, max := tg.RetryDurations()
		t, err := presenter.NewTelegram(presenter.TelegramConfig{
			Token:         tg.Token,
			ChatID:        tg.ChatID,
			ThreadID:      tg.ThreadID,
			Workers:       tg.Workers,
			QueueSize:     tg.QueueSize,
			RatePerSec:    tg.RatePerSec,
			RetryMax:      tg.RetryMax,
			RetryBase:     base,
			RetryMaxDelay: max,
		}, log.With(logx.String("comp", "presenter.telegram")))
		if err != nil {
			return out, err
		}
		out.telegram = t
	}
	return out, nil
}

func mapHTTPConfig(cfg config.HTTPConfig) httpapi.Config {
	read, write, idle := cfg.Timeouts()
	return httpapi.Config{
		Enabled:       cfg.Enabled,
		Addr:          cfg.ListenAddr(),
		Token:         strings.TrimSpace(cfg.Token),
		AllowInsecure: cfg.AllowInsecure,
		Pprof:         cfg.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}
}

func mapRetention(cfg config.HistoryConfig) history.RetentionConfig {
	ret := cfg.RetentionDuration()
	return history.RetentionConfig{
		Enabled:   ret > 0,
		Retention: ret,
		Schedule:  cfg.Schedule(),
		Timezone:  cfg.Timezone,
	}
}
