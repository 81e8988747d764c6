package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/storage"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// BulkAction is a history bulk verb.
type BulkAction string

const (
	BulkMarkRead BulkAction = "mark_read"
	BulkArchive  BulkAction = "archive"
	BulkDelete   BulkAction = "delete"
)

func (a BulkAction) Valid() bool {
	switch a {
	case BulkMarkRead, BulkArchive, BulkDelete:
		return true
	}
	return false
}

// historyLog keeps every admitted notification, including evicted and
// dismissed ones, until deleted or pruned. Guarded by Service.mu.
type historyLog struct {
	recs map[string]*notification.Notification
}

func newHistoryLog() *historyLog {
	return &historyLog{recs: map[string]*notification.Notification{}}
}

func (h *historyLog) put(n *notification.Notification) { h.recs[n.ID] = n }

func (h *historyLog) get(id string) (*notification.Notification, bool) {
	n, ok := h.recs[id]
	return n, ok
}

func (h *historyLog) remove(id string) bool {
	if _, ok := h.recs[id]; !ok {
		return false
	}
	delete(h.recs, id)
	return true
}

// snapshot returns copies ordered by admission time, oldest first.
func (h *historyLog) snapshot(includeDismissed bool) []notification.Notification {
	out := make([]notification.Notification, 0, len(h.recs))
	for _, n := range h.recs {
		if !includeDismissed && n.State == notification.StateDismissed {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AdmittedAt.Equal(out[j].AdmittedAt) {
			return out[i].AdmittedAt.Before(out[j].AdmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type persistOp struct {
	put *storage.Record
	del []string
}

func (s *Service) persistPutLocked(n *notification.Notification) {
	if s.persistCh == nil {
		return
	}
	b, err := json.Marshal(n)
	if err != nil {
		s.log.Warn("history record encode failed", logx.String("id", n.ID), logx.Err(err))
		return
	}
	s.sendPersistLocked(persistOp{put: &storage.Record{ID: n.ID, At: n.AdmittedAt, Data: b}})
}

func (s *Service) persistDeleteLocked(ids ...string) {
	if s.persistCh == nil || len(ids) == 0 {
		return
	}
	s.sendPersistLocked(persistOp{del: append([]string(nil), ids...)})
}

// sendPersistLocked never blocks; history persistence is best-effort.
func (s *Service) sendPersistLocked(op persistOp) {
	select {
	case s.persistCh <- op:
	default:
		s.persistDropped++
		if s.persistDropped == 1 || s.persistDropped%100 == 0 {
			s.log.Warn("history persist queue full; dropping writes", logx.Uint64("dropped", s.persistDropped), logx.Int("queue_cap", cap(s.persistCh)))
		}
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan persistOp, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			// Flush what is already queued before exiting.
			for {
				select {
				case op := <-ch:
					s.applyPersist(context.Background(), st, op)
				default:
					return
				}
			}
		case op := <-ch:
			s.applyPersist(ctx, st, op)
		}
	}
}

func (s *Service) applyPersist(ctx context.Context, st storage.Store, op persistOp) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var err error
	switch {
	case op.put != nil:
		err = st.PutRecord(cctx, *op.put)
	case len(op.del) > 0:
		err = st.DeleteRecords(cctx, op.del)
	}
	if err != nil {
		s.log.Warn("history persist failed", logx.Err(err))
	}
}

// loadHistory reads persisted records. Undecodable records are skipped.
func (s *Service) loadHistory(ctx context.Context) ([]*notification.Notification, error) {
	if s.store == nil {
		return nil, nil
	}
	recs, err := s.store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]*notification.Notification, 0, len(recs))
	for _, r := range recs {
		var n notification.Notification
		if err := json.Unmarshal(r.Data, &n); err != nil || n.ID == "" {
			s.log.Warn("skipping corrupt history record", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// History returns the history log ordered by admission, oldest first.
// Dismissed records are included only when includeDismissed is set.
func (s *Service) History(includeDismissed bool) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.snapshot(includeDismissed)
}

// BulkApply applies action to every id under a single lock acquisition and
// returns how many records changed. Unknown ids and disallowed transitions
// are skipped.
func (s *Service) BulkApply(ids []string, action BulkAction) (int, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("unknown bulk action %q", action)
	}
	var fx effects
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrStopped
	}
	now := s.clk.Now()
	done := map[string]struct{}{}
	affected := 0
	var deleted []string
	for _, id := range ids {
		if _, dup := done[id]; dup {
			continue
		}
		done[id] = struct{}{}
		rec, ok := s.hist.get(id)
		if !ok {
			continue
		}
		switch action {
		case BulkMarkRead, BulkArchive:
			to := notification.StateRead
			if action == BulkArchive {
				to = notification.StateArchived
			}
			if _, live := s.live.get(id); live {
				if _, err := s.live.transition(id, to, now); err != nil {
					continue
				}
			} else {
				if !allowed(rec.State, to) {
					continue
				}
				rec.State = to
				rec.UpdatedAt = now
			}
			s.cancelAutoReadLocked(id)
			s.persistPutLocked(rec)
			fx.publish(EventUpdated, now, notificationEvent(rec, string(action), now))
		case BulkDelete:
			if _, live := s.live.remove(id); live {
				s.cancelAutoReadLocked(id)
				s.dropDeliveryLocked(id, ReasonDeleted, now, &fx)
			}
			s.hist.remove(id)
			deleted = append(deleted, id)
			fx.publish(EventRemoved, now, notificationEvent(rec, ReasonDeleted, now))
		}
		affected++
	}
	s.persistDeleteLocked(deleted...)
	s.mu.Unlock()
	s.flush(&fx)

	s.log.Debug("bulk history action", logx.String("action", string(action)), logx.Int("requested", len(ids)), logx.Int("affected", affected))
	return affected, nil
}

// Prune deletes history records older than before that are no longer live.
func (s *Service) Prune(before time.Time) int {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	var (
		fx  effects
		ids []string
	)
	now := s.clk.Now()
	for id, n := range s.hist.recs {
		if _, live := s.live.get(id); live {
			continue
		}
		if n.Timestamp.Before(before) {
			ids = append(ids, id)
			fx.publish(EventRemoved, now, notificationEvent(n, ReasonPruned, now))
		}
	}
	for _, id := range ids {
		s.hist.remove(id)
	}
	s.persistDeleteLocked(ids...)
	s.mu.Unlock()
	s.flush(&fx)

	if len(ids) > 0 {
		s.log.Info("history pruned", logx.Int("removed", len(ids)), logx.Time("before", before))
	}
	return len(ids)
}
