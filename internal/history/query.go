// Package history answers queries over every notification the engine has
// admitted, applies bulk actions, and prunes old records on a cron schedule.
package history

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

var (
	ErrUnknownAction = errors.New("unknown bulk action")
	ErrInvalidFilter = errors.New("invalid history filter")
)

// Engine is the slice of the notification engine the history service needs.
type Engine interface {
	History(includeDismissed bool) []notification.Notification
	BulkApply(ids []string, action notifier.BulkAction) (int, error)
	Prune(before time.Time) int
}

type Status string

const (
	StatusAny      Status = ""
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusAny, StatusUnread, StatusRead, StatusArchived:
		return st, true
	}
	return StatusAny, false
}

type Filter struct {
	Text             string                `json:"query,omitempty"`
	Category         notification.Category `json:"category,omitempty"`
	Priority         notification.Priority `json:"priority,omitempty"`
	Status           Status                `json:"status,omitempty"`
	Since            time.Time             `json:"since,omitempty"`
	IncludeDismissed bool                  `json:"include_dismissed,omitempty"`
}

// Validate rejects enum values that would silently match nothing.
func (f Filter) Validate() error {
	if f.Category != "" && !f.Category.Valid() {
		return errors.Join(ErrInvalidFilter, errors.New("unknown category "+string(f.Category)))
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return errors.Join(ErrInvalidFilter, errors.New("unknown priority "+string(f.Priority)))
	}
	if _, ok := ParseStatus(string(f.Status)); !ok {
		return errors.Join(ErrInvalidFilter, errors.New("unknown status "+string(f.Status)))
	}
	return nil
}

func (f Filter) match(n notification.Notification) bool {
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	switch f.Status {
	case StatusUnread:
		if n.State != notification.StateUnread {
			return false
		}
	case StatusRead:
		if n.State != notification.StateRead {
			return false
		}
	case StatusArchived:
		if n.State != notification.StateArchived {
			return false
		}
	}
	if !f.Since.IsZero() && n.Timestamp.Before(f.Since) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Text)); q != "" {
		if !strings.Contains(strings.ToLower(n.Title), q) &&
			!strings.Contains(strings.ToLower(n.Message), q) &&
			!strings.Contains(string(n.Category), q) {
			return false
		}
	}
	return true
}

type Page struct {
	Items    []notification.Notification `json:"items"`
	Total    int                         `json:"total"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
	Pages    int                         `json:"pages"`
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// sortNewestFirst orders by timestamp descending with ties broken by id.
func sortNewestFirst(items []notification.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
}
