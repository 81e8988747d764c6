package notifier

import (
	"context"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// Fetcher returns a batch of candidate notifications. Overlapping batches are fine.
type Fetcher interface {
	FetchBatch(ctx context.Context) ([]notification.Raw, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]notification.Raw, error)

func (f FetcherFunc) FetchBatch(ctx context.Context) ([]notification.Raw, error) { return f(ctx) }

// PollStats is best-effort poller bookkeeping.
type PollStats struct {
	Polls      uint64        `json:"polls"`
	Failures   uint64        `json:"failures"`
	LastPollAt time.Time     `json:"last_poll_at,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	LastReport *IngestReport `json:"last_report,omitempty"`
	NextPollAt time.Time     `json:"next_poll_at,omitempty"`
}

// reschedulePollLocked cancels the pending tick and, if polling is enabled,
// arms a new one a full interval from now.
func (s *Service) reschedulePollLocked(set settings.Settings) {
	s.pollGen++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.stats.NextPollAt = time.Time{}
	if !s.started || s.stopped || s.fetcher == nil || !set.Enabled {
		return
	}
	gen := s.pollGen
	d := set.PollInterval()
	s.pollTimer = s.clk.AfterFunc(d, func() { s.pollTick(gen) })
	s.stats.NextPollAt = s.clk.Now().Add(d)
}

func (s *Service) pollTick(gen uint64) {
	set := s.settingsSnapshot()
	s.mu.Lock()
	if s.stopped || gen != s.pollGen {
		s.mu.Unlock()
		return
	}
	s.pollTimer = nil
	if !set.Enabled {
		s.stats.NextPollAt = time.Time{}
		s.mu.Unlock()
		s.log.Debug("notifications disabled; dropping poll tick")
		return
	}
	busy := s.polling
	s.polling = true
	ctx := s.runCtx
	s.mu.Unlock()

	if busy {
		s.log.Debug("previous poll still running; skipping tick")
	} else {
		_, _ = s.poll(ctx)
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}

	set = s.settingsSnapshot()
	s.mu.Lock()
	if gen == s.pollGen {
		s.reschedulePollLocked(set)
	}
	s.mu.Unlock()
}

// PollNow fetches and ingests one batch immediately. The regular schedule is
// unaffected. It fails with ErrDisabled while notifications are off.
func (s *Service) PollNow(ctx context.Context) (IngestReport, error) {
	if !s.settingsSnapshot().Enabled {
		return IngestReport{}, ErrDisabled
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return IngestReport{}, ErrStopped
	}
	return s.poll(ctx)
}

func (s *Service) poll(ctx context.Context) (IngestReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.fetcher == nil {
		return IngestReport{}, &FetchError{At: s.clk.Now(), Err: errNoFetcher}
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	raws, err := s.fetcher.FetchBatch(cctx)
	cancel()

	now := s.clk.Now()
	if err != nil {
		fe := &FetchError{At: now, Err: err}
		s.mu.Lock()
		s.stats.Polls++
		s.stats.Failures++
		s.stats.LastPollAt = now
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		s.log.Warn("poll failed; retrying next tick", logx.Err(err))
		s.publish(EventPollFailed, now, PollEvent{Error: err.Error(), At: now})
		return IngestReport{}, fe
	}

	rep, err := s.Ingest(ctx, raws)
	if err != nil {
		return rep, err
	}
	s.mu.Lock()
	s.stats.Polls++
	s.stats.LastPollAt = now
	s.stats.LastError = ""
	r := rep
	s.stats.LastReport = &r
	s.mu.Unlock()
	s.publish(EventPollCompleted, now, PollEvent{Report: &r, At: now})
	return rep, nil
}
