package config

import (
	"strings"
	"time"
)

// Accessors below assume the config passed Validate; bad values fall back to
// the defaults.

func (h HTTPConfig) ListenAddr() string {
	if a := strings.TrimSpace(h.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8090"
}

func (h HTTPConfig) Timeouts() (read, write, idle time.Duration) {
	return durationOr(h.ReadTimeout, 10*time.Second),
		// 0 keeps websocket streams and pprof profiles open.
		durationOr(h.WriteTimeout, 0),
		durationOr(h.IdleTimeout, 60*time.Second)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(s.BusyTimeout, 0)
}

func (s SourceConfig) TimeoutDuration() time.Duration {
	return durationOr(s.Timeout, 10*time.Second)
}

func (s SourceConfig) KindNormalized() string {
	return strings.ToLower(strings.TrimSpace(s.Kind))
}

func (e EngineConfig) FetchTimeoutDuration() time.Duration {
	return durationOr(e.FetchTimeout, 10*time.Second)
}

func (e EngineConfig) PresentTimeoutDuration() time.Duration {
	return durationOr(e.PresentTimeout, 3*time.Second)
}

func (t TelegramConfig) RetryDurations() (base, max time.Duration) {
	return durationOr(t.RetryBase, 500*time.Millisecond), durationOr(t.RetryMaxDelay, 10*time.Second)
}

func (h HistoryConfig) RetentionDuration() time.Duration {
	return durationOr(h.Retention, 0)
}

func (h HistoryConfig) Schedule() string {
	if s := strings.TrimSpace(h.PruneSchedule); s != "" {
		return s
	}
	return "0 3 * * *"
}
