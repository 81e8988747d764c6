package notifier

import (
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

type armedTimer struct {
	timer clock.Timer
	token uint64
}

func (s *Service) armAutoReadLocked(id string, d time.Duration) {
	s.cancelAutoReadLocked(id)
	s.tokens++
	token := s.tokens
	t := s.clk.AfterFunc(d, func() { s.autoReadFired(id, token) })
	s.autoread[id] = armedTimer{timer: t, token: token}
}

func (s *Service) cancelAutoReadLocked(id string) {
	if a, ok := s.autoread[id]; ok {
		a.timer.Stop()
		delete(s.autoread, id)
	}
}

func (s *Service) cancelAllAutoReadLocked() {
	for id, a := range s.autoread {
		a.timer.Stop()
		delete(s.autoread, id)
	}
}

func (s *Service) autoReadFired(id string, token uint64) {
	var fx effects
	s.mu.Lock()
	a, ok := s.autoread[id]
	if s.stopped || !ok || a.token != token {
		s.mu.Unlock()
		return
	}
	delete(s.autoread, id)
	now := s.clk.Now()
	if n, err := s.live.transition(id, notification.StateRead, now); err == nil {
		s.persistPutLocked(n)
		fx.publish(EventUpdated, now, notificationEvent(n, "auto_read", now))
	}
	s.mu.Unlock()
	s.flush(&fx)
}

// PendingAutoRead returns the number of armed auto-read timers.
func (s *Service) PendingAutoRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.autoread)
}
