package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  enabled: true
  addr: 127.0.0.1:0
  read_timeout: 5s
storage:
  driver: sqlite
  path: ./notifyd.db
source:
  kind: mock
  mock:
    per_poll: 2
engine:
  fetch_timeout: 4s
presenter:
  dbus:
    enabled: false
history:
  retention: 720h
systemd:
  notify: true
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("notifyd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage == nil || cfg.Storage.Driver != "sqlite" || cfg.Source.Mock.PerPoll != 2 {
		t.Fatalf("decoded = %+v", cfg)
	}
	if got := cfg.Engine.FetchTimeoutDuration(); got != 4*time.Second {
		t.Fatalf("fetch timeout = %v", got)
	}
	if got := cfg.History.RetentionDuration(); got != 720*time.Hour {
		t.Fatalf("retention = %v", got)
	}
	if cfg.History.Schedule() != "0 3 * * *" {
		t.Fatalf("default schedule = %q", cfg.History.Schedule())
	}

	if _, err := Decode("notifyd.json", []byte(`{"http":{"enabled":true}}`)); err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if _, err := Decode("notifyd.json", []byte(`{"http":{"enabled":true}}{}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := Decode("notifyd.yaml", []byte("telegram:\n  token: x\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"zero config is valid", Config{}, nil},
		{"bad durations", Config{HTTP: HTTPConfig{ReadTimeout: "soon"}, History: HistoryConfig{Retention: "-1h"}},
			[]string{"http.read_timeout", "history.retention"}},
		{"http source needs url", Config{Source: SourceConfig{Kind: "http"}}, []string{"source.url"}},
		{"unknown source", Config{Source: SourceConfig{Kind: "kafka"}}, []string{"source.kind"}},
		{"sqlite needs path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, []string{"storage.path"}},
		{"unknown driver", Config{Storage: &StorageConfig{Driver: "redis"}}, []string{"storage.driver"}},
		{"telegram needs token and chat", Config{Presenter: PresenterConfig{Telegram: &TelegramConfig{Enabled: true}}},
			[]string{"telegram.token", "telegram.chat_id"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{HTTP: HTTPConfig{Enabled: true, Token: "a"}, History: HistoryConfig{Retention: "24h"}}
	next := &Config{HTTP: HTTPConfig{Enabled: true, Token: "b"}, History: HistoryConfig{Retention: "48h"}, Storage: &StorageConfig{Driver: "memory"}}

	changed, attrs := SummarizeConfigChange(old, next)
	want := []string{"history", "http", "storage"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log fields")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("restart required = %v", got)
	}
	if changed, _ := SummarizeConfigChange(old, old); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifyd.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	writeFile(t, path, `{"logging":{"level":"debug"}}`)
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected reload = %v, %v", ok, err)
	}
	if m.Get().Logging.Level != "info" {
		t.Fatal("rejected config was committed")
	}

	m.SetValidator(nil)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("reload = %v, %v", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}
}

func TestManagerWatchPublishesEdits(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notifyd.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "warn" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is armed and picks it up.
			writeFile(t, path, "logging:\n  level: warn\n")
		case <-deadline:
			t.Fatal("watch did not publish the edited config")
		}
	}
}
