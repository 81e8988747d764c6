package notifier

import (
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

// allowed reports whether from -> to is a legal lifecycle step.
// Nothing returns to unread and dismissed is absorbing.
func allowed(from, to notification.State) bool {
	switch to {
	case notification.StateRead:
		return from == notification.StateUnread
	case notification.StateArchived:
		return from == notification.StateUnread || from == notification.StateRead
	case notification.StateDismissed:
		return from != notification.StateDismissed
	default:
		return false
	}
}

// liveStore is the ordered, capacity-bounded set of live notifications.
// Items are shared with the history log, so a state change is visible to both.
type liveStore struct {
	items map[string]*notification.Notification
	// order is most-recent-first by admission.
	order []string

	unread         int
	criticalUnread int
}

func newLiveStore() *liveStore {
	return &liveStore{items: map[string]*notification.Notification{}}
}

func (s *liveStore) Len() int { return len(s.items) }

func (s *liveStore) get(id string) (*notification.Notification, bool) {
	n, ok := s.items[id]
	return n, ok
}

// insert prepends n as unread and evicts the oldest entries beyond max.
// An id that is already present is left untouched.
func (s *liveStore) insert(n *notification.Notification, max int) (evicted []*notification.Notification) {
	if _, ok := s.items[n.ID]; ok {
		return nil
	}
	n.State = notification.StateUnread
	s.items[n.ID] = n
	s.order = append(s.order, "")
	copy(s.order[1:], s.order)
	s.order[0] = n.ID
	s.count(n, 1)
	return s.resize(max)
}

// resize drops the oldest entries until at most max remain.
func (s *liveStore) resize(max int) (evicted []*notification.Notification) {
	if max < 1 {
		max = 1
	}
	for len(s.order) > max {
		id := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		if n, ok := s.items[id]; ok {
			delete(s.items, id)
			s.count(n, -1)
			evicted = append(evicted, n)
		}
	}
	return evicted
}

// transition moves id to state to. It returns ErrNotFound for ids that are not
// live and ErrInvalidTransition for disallowed steps (which change nothing).
func (s *liveStore) transition(id string, to notification.State, now time.Time) (*notification.Notification, error) {
	n, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !allowed(n.State, to) {
		return n, ErrInvalidTransition
	}
	s.count(n, -1)
	n.State = to
	n.UpdatedAt = now
	s.count(n, 1)
	return n, nil
}

// markAllRead flips every unread entry to read and returns them in store order.
func (s *liveStore) markAllRead(now time.Time) []*notification.Notification {
	var out []*notification.Notification
	for _, id := range s.order {
		n := s.items[id]
		if n == nil || n.State != notification.StateUnread {
			continue
		}
		s.count(n, -1)
		n.State = notification.StateRead
		n.UpdatedAt = now
		s.count(n, 1)
		out = append(out, n)
	}
	return out
}

// remove drops id from the store without touching its state.
func (s *liveStore) remove(id string) (*notification.Notification, bool) {
	n, ok := s.items[id]
	if !ok {
		return nil, false
	}
	delete(s.items, id)
	s.count(n, -1)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return n, true
}

// snapshot returns deep copies in store order.
func (s *liveStore) snapshot() []notification.Notification {
	out := make([]notification.Notification, 0, len(s.order))
	for _, id := range s.order {
		if n := s.items[id]; n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (s *liveStore) count(n *notification.Notification, delta int) {
	if n.State != notification.StateUnread {
		return
	}
	s.unread += delta
	if n.Priority == notification.PriorityCritical {
		s.criticalUnread += delta
	}
}

// recount walks the store; the incremental counters must always agree with it.
func (s *liveStore) recount() (unread, criticalUnread int) {
	for _, n := range s.items {
		if n.Unread() {
			unread++
			if n.Priority == notification.PriorityCritical {
				criticalUnread++
			}
		}
	}
	return unread, criticalUnread
}
