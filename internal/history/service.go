package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

type Stats struct {
	Total      int                           `json:"total"`
	Unread     int                           `json:"unread"`
	Read       int                           `json:"read"`
	Archived   int                           `json:"archived"`
	ByCategory map[notification.Category]int `json:"by_category"`
	ByPriority map[notification.Priority]int `json:"by_priority"`
}

type Export struct {
	ExportID      string                      `json:"export_id"`
	ExportedAt    time.Time                   `json:"exported_at"`
	Filters       Filter                      `json:"filters"`
	Notifications []notification.Notification `json:"notifications"`
	Statistics    Stats                       `json:"statistics"`
}

type RetentionConfig struct {
	Enabled bool
	// Retention is the age after which non-live records are dropped.
	Retention time.Duration
	Schedule  string
	Timezone  string
}

type Service struct {
	eng Engine
	clk clock.Clock
	log logx.Logger

	parser cron.Parser

	retention atomic.Int64

	mu    sync.Mutex
	c     *cron.Cron
	sched cron.Schedule
	loc   *time.Location
}

func New(eng Engine, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		eng: eng,
		clk: clk,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSchedule reports whether spec is a cron expression Start accepts.
func (s *Service) ValidateSchedule(spec string) error {
	if _, err := s.parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Service) matching(f Filter) []notification.Notification {
	all := s.eng.History(f.IncludeDismissed)
	out := all[:0]
	for _, n := range all {
		if f.match(n) {
			out = append(out, n)
		}
	}
	sortNewestFirst(out)
	return out
}

// Query returns one page of matching records, newest first.
func (s *Service) Query(f Filter, page, pageSize int) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	page, pageSize = normalizePage(page, pageSize)
	items := s.matching(f)

	p := Page{Total: len(items), Page: page, PageSize: pageSize}
	p.Pages = (p.Total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start >= len(items) {
		p.Items = []notification.Notification{}
		return p, nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	p.Items = items[start:end]
	return p, nil
}

// Bulk applies a mark_read, archive or delete verb to ids.
func (s *Service) Bulk(ids []string, action string) (int, error) {
	a := notifier.BulkAction(strings.ToLower(strings.TrimSpace(action)))
	if !a.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.eng.BulkApply(ids, a)
}

func (s *Service) Stats(f Filter) (Stats, error) {
	if err := f.Validate(); err != nil {
		return Stats{}, err
	}
	return stats(s.matching(f)), nil
}

func stats(items []notification.Notification) Stats {
	st := Stats{
		ByCategory: map[notification.Category]int{},
		ByPriority: map[notification.Priority]int{},
	}
	for _, n := range items {
		st.Total++
		switch n.State {
		case notification.StateUnread:
			st.Unread++
		case notification.StateRead:
			st.Read++
		case notification.StateArchived:
			st.Archived++
		}
		st.ByCategory[n.Category]++
		st.ByPriority[n.Priority]++
	}
	return st
}

func (s *Service) Export(f Filter) (Export, error) {
	if err := f.Validate(); err != nil {
		return Export{}, err
	}
	items := s.matching(f)
	s.log.Info("history exported", logx.Int("count", len(items)))
	return Export{
		ExportID:      uuid.NewString(),
		ExportedAt:    s.clk.Now(),
		Filters:       f,
		Notifications: items,
		Statistics:    stats(items),
	}, nil
}

// PruneNow drops non-live records older than the configured retention.
func (s *Service) PruneNow() int {
	ret := time.Duration(s.retention.Load())
	if ret <= 0 {
		return 0
	}
	return s.eng.Prune(s.clk.Now().Add(-ret))
}

// Start registers the retention job when enabled. Calling Start again with a
// different config replaces the schedule.
func (s *Service) Start(ctx context.Context, cfg RetentionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sched cron.Schedule
	if cfg.Enabled {
		var err error
		if sched, err = s.parser.Parse(strings.TrimSpace(cfg.Schedule)); err != nil {
			return fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
		}
	}
	s.stopLocked(ctx)
	s.retention.Store(int64(cfg.Retention))
	if !cfg.Enabled || cfg.Retention <= 0 {
		s.log.Debug("history retention disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid retention timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.c.Schedule(sched, cron.FuncJob(func() { s.PruneNow() }))
	s.sched, s.loc = sched, loc
	s.c.Start()
	s.log.Info("history retention scheduled", logx.String("schedule", cfg.Schedule), logx.Duration("retention", cfg.Retention), logx.Time("next", s.nextLocked()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	c := s.c
	s.c, s.sched = nil, nil
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("retention job still running at stop")
	}
}

// NextRun reports when the retention job fires next; zero when unscheduled.
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Service) nextLocked() time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(s.clk.Now().In(s.loc))
}
