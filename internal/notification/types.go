// Package notification holds the domain model shared by the engine, the
// history service and the HTTP surface.
package notification

import (
	"strings"
	"time"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

type Category string

const (
	CategoryApplication Category = "application"
	CategoryPrintJob    Category = "print_job"
	CategoryShipping    Category = "shipping"
	CategoryCollection  Category = "collection"
	CategoryCompliance  Category = "compliance"
	CategorySystem      Category = "system"
	CategoryUserAction  Category = "user_action"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryApplication,
	CategoryPrintJob,
	CategoryShipping,
	CategoryCollection,
	CategoryCompliance,
	CategorySystem,
	CategoryUserAction,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// State is the mutable lifecycle state of a notification.
type State string

const (
	StateUnread    State = "unread"
	StateRead      State = "read"
	StateArchived  State = "archived"
	StateDismissed State = "dismissed"
)

type ActionRef struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

type Metadata struct {
	EntityID        string `json:"entity_id,omitempty"`
	EntityType      string `json:"entity_type,omitempty"`
	Progress        int    `json:"progress,omitempty"`
	RetryCount      int    `json:"retry_count,omitempty"`
	AutoDismissible bool   `json:"auto_dismissible,omitempty"`
}

// Notification is one admitted event. Everything except State and UpdatedAt
// is fixed at admission.
type Notification struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Priority  Priority   `json:"priority"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Category  Category   `json:"category"`
	Timestamp time.Time  `json:"timestamp"`
	GroupKey  string     `json:"group_key"`
	Action    *ActionRef `json:"action,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`

	State      State     `json:"state"`
	AdmittedAt time.Time `json:"admitted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (n Notification) Archived() bool { return n.State == StateArchived }

func (n Notification) Unread() bool { return n.State == StateUnread }

// AutoDismissible reports whether the auto-read scheduler may act on n.
func (n Notification) AutoDismissible() bool {
	return n.Metadata != nil && n.Metadata.AutoDismissible
}

// Clone returns a deep copy so snapshots handed out of the engine never alias
// engine-owned pointers.
func (n Notification) Clone() Notification {
	cp := n
	if n.Action != nil {
		a := *n.Action
		cp.Action = &a
	}
	if n.Metadata != nil {
		m := *n.Metadata
		cp.Metadata = &m
	}
	return cp
}

// Group is a derived, read-only summary of notifications sharing a group key.
type Group struct {
	GroupID         string    `json:"group_id"`
	Category        Category  `json:"category"`
	MemberIDs       []string  `json:"member_ids"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
	UnreadCount     int       `json:"unread_count"`
}
