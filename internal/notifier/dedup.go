package notifier

import "github.com/schuttebj/ampro-platform-sub001/internal/notification"

// dedup is a monotonically growing set of seen ids. It never forgets an id
// for the life of the process.
type dedup struct {
	seen map[string]struct{}
}

func newDedup() *dedup { return &dedup{seen: map[string]struct{}{}} }

func (d *dedup) seed(ids ...string) {
	for _, id := range ids {
		d.seen[id] = struct{}{}
	}
}

// Admit returns the items whose id was not seen before, in batch order, and
// records them. Repeats inside the batch are dropped as well.
func (d *dedup) Admit(batch []notification.Notification) (fresh []notification.Notification, dropped int) {
	fresh = make([]notification.Notification, 0, len(batch))
	for _, n := range batch {
		if _, ok := d.seen[n.ID]; ok {
			dropped++
			continue
		}
		d.seen[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	return fresh, dropped
}

func (d *dedup) Seen(id string) bool {
	_, ok := d.seen[id]
	return ok
}

func (d *dedup) Len() int { return len(d.seen) }
