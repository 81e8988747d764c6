package notifier

import (
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

const (
	criticalDisplay = 10 * time.Second
	urgentDisplay   = 6 * time.Second
)

// DisplayDuration is how long an item occupies the delivery slot.
func DisplayDuration(p notification.Priority) time.Duration {
	if p == notification.PriorityCritical {
		return criticalDisplay
	}
	return urgentDisplay
}

type DeliveryEntry struct {
	ID       string                `json:"id"`
	Priority notification.Priority `json:"priority"`
}

// Slot is the item currently on display.
type Slot struct {
	DeliveryEntry
	ShownAt time.Time `json:"shown_at"`
	Until   time.Time `json:"until"`
}

// DeliveryStatus is a point-in-time view of the queue.
type DeliveryStatus struct {
	Current      *Slot                      `json:"current,omitempty"`
	Notification *notification.Notification `json:"notification,omitempty"`
	Pending      []DeliveryEntry            `json:"pending"`
}

// deliveryQueue is a FIFO feeding a single display slot. Guarded by Service.mu.
type deliveryQueue struct {
	pending []DeliveryEntry
	current *Slot
	timer   clock.Timer
	token   uint64
}

func (s *Service) enqueueDeliveryLocked(n *notification.Notification) {
	s.delivery.pending = append(s.delivery.pending, DeliveryEntry{ID: n.ID, Priority: n.Priority})
}

// promoteLocked fills an empty slot from the head of the queue, skipping
// entries whose notification already left the live store.
func (s *Service) promoteLocked(now time.Time, fx *effects) {
	d := &s.delivery
	if d.current != nil || s.stopped {
		return
	}
	for len(d.pending) > 0 {
		e := d.pending[0]
		d.pending = d.pending[1:]
		if _, ok := s.live.get(e.ID); !ok {
			continue
		}
		dur := DisplayDuration(e.Priority)
		s.tokens++
		token := s.tokens
		d.token = token
		d.current = &Slot{DeliveryEntry: e, ShownAt: now, Until: now.Add(dur)}
		d.timer = s.clk.AfterFunc(dur, func() { s.slotExpired(token) })
		fx.publish(EventDeliveryShown, now, DeliveryEvent{ID: e.ID, Priority: e.Priority, Until: d.current.Until, At: now})
		return
	}
}

func (s *Service) clearSlotLocked(reason string, now time.Time, fx *effects) {
	d := &s.delivery
	if d.current == nil {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	cur := d.current
	d.current = nil
	d.token = 0
	fx.publish(EventDeliveryCleared, now, DeliveryEvent{ID: cur.ID, Priority: cur.Priority, Reason: reason, At: now})
}

// dropDeliveryLocked forgets id: queued entries are removed and, if it is on
// display, the slot empties and the next entry is promoted.
func (s *Service) dropDeliveryLocked(id, reason string, now time.Time, fx *effects) {
	d := &s.delivery
	kept := d.pending[:0]
	for _, e := range d.pending {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	d.pending = kept
	if d.current != nil && d.current.ID == id {
		s.clearSlotLocked(reason, now, fx)
		s.promoteLocked(now, fx)
	}
}

func (s *Service) slotExpired(token uint64) {
	var fx effects
	s.mu.Lock()
	if s.stopped || s.delivery.current == nil || s.delivery.token != token {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	s.delivery.timer = nil
	s.clearSlotLocked(ReasonExpired, now, &fx)
	s.promoteLocked(now, &fx)
	s.mu.Unlock()
	s.flush(&fx)
}

// CloseDelivery empties the slot (the item stays in the store) and promotes
// the next entry. It reports whether anything was on display.
func (s *Service) CloseDelivery() bool {
	var fx effects
	s.mu.Lock()
	if s.stopped || s.delivery.current == nil {
		s.mu.Unlock()
		return false
	}
	now := s.clk.Now()
	s.clearSlotLocked(ReasonClosed, now, &fx)
	s.promoteLocked(now, &fx)
	s.mu.Unlock()
	s.flush(&fx)
	return true
}

func (s *Service) Delivery() DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := DeliveryStatus{Pending: append([]DeliveryEntry(nil), s.delivery.pending...)}
	if cur := s.delivery.current; cur != nil {
		cp := *cur
		st.Current = &cp
		if n, ok := s.live.get(cur.ID); ok {
			c := n.Clone()
			st.Notification = &c
		}
	}
	return st
}
