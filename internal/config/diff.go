package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe log
// fields describing them. Tokens are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.kind", newCfg.Source.KindNormalized()),
			logx.Bool("source.token_set", strings.TrimSpace(newCfg.Source.Token) != ""),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Duration("engine.fetch_timeout", newCfg.Engine.FetchTimeoutDuration()),
			logx.Int("engine.persist_queue", newCfg.Engine.PersistQueue),
		)
	}

	if !reflect.DeepEqual(oldCfg.Presenter, newCfg.Presenter) {
		changed = append(changed, "presenter")
		tg := newCfg.Presenter.Telegram != nil && newCfg.Presenter.Telegram.Enabled
		attrs = append(attrs,
			logx.Bool("presenter.dbus", newCfg.Presenter.DBus.Enabled),
			logx.Bool("presenter.telegram", tg),
		)
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.Duration("history.retention", newCfg.History.RetentionDuration()),
			logx.String("history.prune_schedule", newCfg.History.Schedule()),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// process restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "storage", "source", "engine", "presenter", "systemd":
			out = append(out, c)
		}
	}
	return out
}
