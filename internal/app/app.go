// Package app wires the notification daemon together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/config"
	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
	"github.com/schuttebj/ampro-platform-sub001/internal/history"
	"github.com/schuttebj/ampro-platform-sub001/internal/httpapi"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
	"github.com/schuttebj/ampro-platform-sub001/internal/presenter"
	rtsup "github.com/schuttebj/ampro-platform-sub001/internal/runtime/supervisor"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	"github.com/schuttebj/ampro-platform-sub001/internal/storage"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	settings *settings.Store
	engine   *notifier.Service
	hist     *history.Service
	http     *httpapi.Server
	pres     presenters
	sd       *sdNotifier
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	var kv settings.KV
	if store != nil {
		kv = store
	}
	set := settings.NewStore(kv, cfg.Engine.SettingsKey, log.With(logx.String("comp", "settings")))

	clk := clock.Real()
	fetcher, err := buildFetcher(cfg.Source, clk, log.With(logx.String("comp", "source")))
	if err != nil {
		closeStore(store)
		return nil, err
	}
	pres, err := buildPresenters(cfg.Presenter, log)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	eng := notifier.New(mapEngineConfig(cfg), notifier.Deps{
		Settings:  set,
		Fetcher:   fetcher,
		Presenter: pres.combined(),
		Navigator: presenter.BusNavigator{Bus: bus},
		Clock:     clk,
	}, log.With(logx.String("comp", "notifier")), bus, store)

	hist := history.New(eng, clk, log.With(logx.String("comp", "history")))
	handler := httpapi.NewHandler(eng, hist, set, bus, log.With(logx.String("comp", "http")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		settings: set,
		engine:   eng,
		hist:     hist,
		http:     httpapi.NewServer(mapHTTPConfig(cfg.HTTP), handler, log.With(logx.String("comp", "http"))),
		pres:     pres,
		sd:       newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
	}, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) Engine() *notifier.Service { return a.engine }

func (a *App) History() *history.Service { return a.hist }

// HTTPAddr is the bound API address, or "" when the API is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if ret := mapRetention(cfg.History); ret.Enabled {
			if err := a.hist.ValidateSchedule(ret.Schedule); err != nil {
				return err
			}
		}
		if tz := strings.TrimSpace(cfg.History.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("history.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if a.pres.telegram != nil {
		a.pres.telegram.Start(runCtx)
	}
	if err := a.engine.Start(runCtx); err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	if err := a.hist.Start(runCtx, mapRetention(cfg.History)); err != nil {
		return err
	}
	a.http.Start(runCtx)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if every := watchdogInterval(); cfg.Systemd.Watchdog && every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.sd.runWatchdog(c, every, func() bool {
				st := a.engine.Status()
				return st.Started && !st.Stopped
			})
		})
	}

	a.sd.Ready()
	a.sd.Status("serving")
	a.log.Info("app started", logx.String("config", a.cfgm.Path()), logx.String("http", a.HTTPAddr()))
	return nil
}

// latest drains sub so bursts of reloads apply once.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig applies the hot-reloadable sections: logging, http and history.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(next.Logging))
		case "http":
			a.http.Reconfigure(ctx, mapHTTPConfig(next.HTTP))
		case "history":
			if err := a.hist.Start(ctx, mapRetention(next.History)); err != nil {
				a.log.Warn("invalid history config; keeping previous", logx.Err(err))
			}
		}
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strs("sections", rr))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("history", time.Second, func(c context.Context) error { a.hist.Stop(c); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("presenters", 2*time.Second, func(c context.Context) error {
		if a.pres.telegram != nil {
			a.pres.telegram.Stop(c)
		}
		if a.pres.dbus != nil {
			return a.pres.dbus.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
