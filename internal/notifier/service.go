package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/presenter"
	rtsup "github.com/schuttebj/ampro-platform-sub001/internal/runtime/supervisor"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	"github.com/schuttebj/ampro-platform-sub001/internal/storage"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// Config tunes engine plumbing. Notification policy lives in settings.
type Config struct {
	FetchTimeout   time.Duration
	PresentTimeout time.Duration
	PersistQueue   int
}

// Deps are the engine collaborators. Only Settings is required; nil
// collaborators disable the matching feature.
type Deps struct {
	Settings  *settings.Store
	Fetcher   Fetcher
	Presenter presenter.Presenter
	Navigator presenter.Navigator
	Clock     clock.Clock
}

// IngestReport summarises one batch.
type IngestReport struct {
	Received    int      `json:"received"`
	Invalid     int      `json:"invalid"`
	Duplicates  int      `json:"duplicates"`
	Rejected    int      `json:"rejected"`
	Admitted    int      `json:"admitted"`
	Evicted     int      `json:"evicted"`
	AdmittedIDs []string `json:"admitted_ids,omitempty"`
}

type Counts struct {
	Total          int `json:"total"`
	Unread         int `json:"unread"`
	CriticalUnread int `json:"critical_unread"`
}

// Status is an operational snapshot.
type Status struct {
	Started          bool      `json:"started"`
	Stopped          bool      `json:"stopped"`
	Live             int       `json:"live"`
	History          int       `json:"history"`
	Seen             int       `json:"seen"`
	PendingAutoRead  int       `json:"pending_auto_read"`
	PendingDelivery  int       `json:"pending_delivery"`
	DesktopPermitted bool      `json:"desktop_permitted"`
	PersistDropped   uint64    `json:"persist_dropped"`
	Poll             PollStats `json:"poll"`
}

// Service is the notification engine. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	store     storage.Store
	clk       clock.Clock
	settings  *settings.Store
	fetcher   Fetcher
	presenter presenter.Presenter
	navigator presenter.Navigator

	live     *liveStore
	seen     *dedup
	hist     *historyLog
	delivery deliveryQueue
	autoread map[string]armedTimer
	tokens   uint64

	started    bool
	stopped    bool
	runCtx     context.Context
	sup        *rtsup.Supervisor
	unwatch    func()
	permission bool

	persistCh      chan persistOp
	persistDropped uint64

	pollTimer clock.Timer
	pollGen   uint64
	polling   bool
	stats     PollStats
}

func New(cfg Config, deps Deps, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.PresentTimeout <= 0 {
		cfg.PresentTimeout = 3 * time.Second
	}
	if cfg.PersistQueue <= 0 {
		cfg.PersistQueue = 1024
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewStore(nil, "", log)
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		store:     store,
		clk:       deps.Clock,
		settings:  deps.Settings,
		fetcher:   deps.Fetcher,
		presenter: deps.Presenter,
		navigator: deps.Navigator,
		live:      newLiveStore(),
		seen:      newDedup(),
		hist:      newHistoryLog(),
		autoread:  map[string]armedTimer{},
		runCtx:    context.Background(),
	}
}

// Supervisor returns the engine's supervisor (nil before Start).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Settings() *settings.Store { return s.settings }

// Start loads settings and the persisted history log, then arms the poller.
// It is idempotent; a stopped engine cannot be restarted.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Load failures degrade to defaults; the store logs them.
	set, _ := s.settings.Load(ctx)
	recs, err := s.loadHistory(ctx)
	if err != nil {
		s.log.Warn("history unavailable; starting empty", logx.Err(err))
	}

	s.mu.Lock()
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Engine failures should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	s.runCtx = s.sup.Context()
	for _, n := range recs {
		s.hist.put(n)
		s.seen.seed(n.ID)
	}
	if s.store != nil {
		s.persistCh = make(chan persistOp, s.cfg.PersistQueue)
		ch, st, sup := s.persistCh, s.store, s.sup
		sup.GoRestart("history.persist", func(c context.Context) error {
			s.persistLoop(c, ch, st)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("history persist loop exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.started = true
	s.reschedulePollLocked(set)
	s.mu.Unlock()

	unwatch := s.settings.Watch(s.onSettingsChange)
	s.mu.Lock()
	s.unwatch = unwatch
	s.mu.Unlock()
	if set.DesktopEnabled {
		s.requestPermission(ctx)
	}
	s.log.Info("notification engine started",
		logx.Bool("enabled", set.Enabled),
		logx.Int("poll_interval_ms", set.PollIntervalMs),
		logx.Int("history", len(recs)),
	)
	return nil
}

// Stop cancels the poll timer, the delivery slot timer and every auto-read
// timer, then drains pending history writes until ctx expires. Nothing
// mutates the engine after Stop returns.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pollGen++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	if s.delivery.timer != nil {
		s.delivery.timer.Stop()
		s.delivery.timer = nil
	}
	s.cancelAllAutoReadLocked()
	unwatch := s.unwatch
	sup := s.sup
	ch, st := s.persistCh, s.store
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("engine stop incomplete", logx.Err(err))
			return
		}
	}
	// The persist loop may have been cancelled before it ran; write what is left.
	if ch != nil && st != nil {
		for drained := false; !drained; {
			select {
			case op := <-ch:
				s.applyPersist(context.Background(), st, op)
			default:
				drained = true
			}
		}
	}
	s.log.Info("notification engine stopped")
}

// Ingest runs one batch through normalize, dedup, policy filter and store
// insertion, in batch order.
func (s *Service) Ingest(ctx context.Context, batch []notification.Raw) (IngestReport, error) {
	set := s.settingsSnapshot()
	now := s.clk.Now()
	rep := IngestReport{Received: len(batch)}

	items := make([]notification.Notification, 0, len(batch))
	for _, r := range batch {
		n, err := r.Normalize(now)
		if err != nil {
			rep.Invalid++
			s.log.Debug("dropping invalid notification", logx.Err(err))
			continue
		}
		items = append(items, n)
	}

	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return rep, ErrStopped
	}
	fresh, dup := s.seen.Admit(items)
	rep.Duplicates = dup
	admissible, rejected := Filter(fresh, set)
	rep.Rejected = rejected

	var urgent []*notification.Notification
	for i := range admissible {
		n := new(notification.Notification)
		*n = admissible[i]
		s.hist.put(n)
		evicted := s.live.insert(n, set.MaxDisplayCount)
		s.persistPutLocked(n)
		rep.Admitted++
		rep.AdmittedIDs = append(rep.AdmittedIDs, n.ID)
		fx.publish(EventAdmitted, now, notificationEvent(n, "", now))

		if n.AutoDismissible() && set.AutoReadDelaySec > 0 {
			s.armAutoReadLocked(n.ID, set.AutoReadDelay())
		}
		if n.Priority.Urgent() {
			s.enqueueDeliveryLocked(n)
			urgent = append(urgent, n)
		}
		for _, ev := range evicted {
			s.evictLocked(ev, now, &fx)
			rep.Evicted++
		}
	}
	s.promoteLocked(now, &fx)

	if set.DesktopEnabled && s.permission && s.presenter != nil {
		for _, n := range urgent {
			if _, live := s.live.get(n.ID); !live {
				continue
			}
			fx.toasts = append(fx.toasts, presenter.Toast{
				Title:              n.Title,
				Body:               n.Message,
				Tag:                n.ID,
				RequireInteraction: n.Priority == notification.PriorityCritical,
				Critical:           n.Priority == notification.PriorityCritical,
				Silent:             !set.SoundEnabled,
			})
		}
	}
	s.mu.Unlock()
	s.flush(&fx)
	s.present(ctx, fx.toasts)

	if rep.Received > 0 {
		s.log.Debug("batch ingested",
			logx.Int("received", rep.Received),
			logx.Int("admitted", rep.Admitted),
			logx.Int("duplicates", rep.Duplicates),
			logx.Int("rejected", rep.Rejected),
			logx.Int("invalid", rep.Invalid),
			logx.Int("evicted", rep.Evicted),
		)
	}
	return rep, nil
}

func (s *Service) evictLocked(n *notification.Notification, now time.Time, fx *effects) {
	s.cancelAutoReadLocked(n.ID)
	s.dropDeliveryLocked(n.ID, ReasonEvicted, now, fx)
	fx.publish(EventRemoved, now, notificationEvent(n, ReasonEvicted, now))
}

// MarkRead moves an unread item to read. A no-op step returns ErrInvalidTransition.
func (s *Service) MarkRead(id string) error {
	return s.transition(id, notification.StateRead)
}

// Archive moves an unread or read item to archived.
func (s *Service) Archive(id string) error {
	return s.transition(id, notification.StateArchived)
}

// Dismiss removes the item from the live store. Its history record is kept
// with state dismissed.
func (s *Service) Dismiss(id string) error {
	return s.transition(id, notification.StateDismissed)
}

func (s *Service) transition(id string, to notification.State) error {
	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	now := s.clk.Now()
	n, err := s.live.transition(id, to, now)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cancelAutoReadLocked(id)
	if to == notification.StateDismissed {
		s.live.remove(id)
		s.dropDeliveryLocked(id, ReasonDismissed, now, &fx)
		fx.publish(EventRemoved, now, notificationEvent(n, ReasonDismissed, now))
	} else {
		fx.publish(EventUpdated, now, notificationEvent(n, "", now))
	}
	s.persistPutLocked(n)
	s.mu.Unlock()
	s.flush(&fx)
	return nil
}

// MarkAllRead marks every unread item read and cancels their auto-read timers.
func (s *Service) MarkAllRead() (int, error) {
	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrStopped
	}
	now := s.clk.Now()
	marked := s.live.markAllRead(now)
	for _, n := range marked {
		s.cancelAutoReadLocked(n.ID)
		s.persistPutLocked(n)
		fx.publish(EventUpdated, now, notificationEvent(n, "mark_all_read", now))
	}
	s.mu.Unlock()
	s.flush(&fx)
	return len(marked), nil
}

// Open marks the item read and asks the navigator to follow its action.
// It returns the action, or nil when the item has none.
func (s *Service) Open(ctx context.Context, id string) (*notification.ActionRef, error) {
	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	n, ok := s.live.get(id)
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	now := s.clk.Now()
	if _, err := s.live.transition(id, notification.StateRead, now); err == nil {
		s.cancelAutoReadLocked(id)
		s.persistPutLocked(n)
		fx.publish(EventUpdated, now, notificationEvent(n, "opened", now))
	}
	var action *notification.ActionRef
	if n.Action != nil {
		a := *n.Action
		action = &a
	}
	nav := s.navigator
	s.mu.Unlock()
	s.flush(&fx)

	if action != nil && nav != nil {
		if err := nav.Navigate(ctx, action.URL); err != nil {
			return action, err
		}
	}
	return action, nil
}

// List returns the live store, most recent first.
func (s *Service) List() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.snapshot()
}

func (s *Service) Get(id string) (notification.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.live.get(id)
	if !ok {
		return notification.Notification{}, false
	}
	return n.Clone(), true
}

func (s *Service) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{Total: s.live.Len(), Unread: s.live.unread, CriticalUnread: s.live.criticalUnread}
}

// Groups derives groups from a consistent snapshot of the live store.
func (s *Service) Groups() []notification.Group {
	return ComputeGroups(s.List())
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Started:          s.started,
		Stopped:          s.stopped,
		Live:             s.live.Len(),
		History:          len(s.hist.recs),
		Seen:             s.seen.Len(),
		PendingAutoRead:  len(s.autoread),
		PendingDelivery:  len(s.delivery.pending),
		DesktopPermitted: s.permission,
		PersistDropped:   s.persistDropped,
		Poll:             s.stats,
	}
}

func (s *Service) settingsSnapshot() settings.Settings { return s.settings.Get() }

func (s *Service) onSettingsChange(c settings.Change) {
	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	if c.PollChanged() {
		s.reschedulePollLocked(c.New)
	}
	if c.New.MaxDisplayCount < c.Old.MaxDisplayCount {
		for _, ev := range s.live.resize(c.New.MaxDisplayCount) {
			s.evictLocked(ev, now, &fx)
		}
	}
	fx.publish(EventSettingsChanged, now, c.New)
	ctx := s.runCtx
	s.mu.Unlock()
	s.flush(&fx)

	if c.New.DesktopEnabled && !c.Old.DesktopEnabled {
		s.requestPermission(ctx)
	}
}

func (s *Service) requestPermission(ctx context.Context) {
	if s.presenter == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.PresentTimeout)
	ok, err := s.presenter.RequestPermission(cctx)
	cancel()
	if err != nil {
		s.log.Debug("desktop permission request failed", logx.Err(err))
	}
	s.mu.Lock()
	s.permission = ok
	s.mu.Unlock()
}

// present hands toasts to the presenter; failures are swallowed.
func (s *Service) present(ctx context.Context, toasts []presenter.Toast) {
	if len(toasts) == 0 || s.presenter == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, t := range toasts {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.PresentTimeout)
		if err := s.presenter.Show(cctx, t); err != nil {
			s.log.Debug("desktop toast failed", logx.String("tag", t.Tag), logx.Err(err))
		}
		cancel()
	}
}

// effects collects bus events and toasts while Service.mu is held so they can
// be emitted after it is released.
type effects struct {
	events []eventbus.Event
	toasts []presenter.Toast
}

func (fx *effects) publish(typ string, at time.Time, data any) {
	fx.events = append(fx.events, eventbus.Event{Type: typ, Time: at, Data: data})
}

func (s *Service) flush(fx *effects) {
	if s.bus == nil {
		return
	}
	for _, e := range fx.events {
		s.bus.Publish(e)
	}
}

func (s *Service) publish(typ string, at time.Time, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
	}
}
