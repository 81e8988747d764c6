package notifier

import (
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

// Event types published on the bus.
const (
	EventAdmitted        = "notification.admitted"
	EventUpdated         = "notification.updated"
	EventRemoved         = "notification.removed"
	EventDeliveryShown   = "delivery.shown"
	EventDeliveryCleared = "delivery.cleared"
	EventPollCompleted   = "poll.completed"
	EventPollFailed      = "poll.failed"
	EventSettingsChanged = "settings.changed"
)

// Reasons carried by EventRemoved and EventDeliveryCleared.
const (
	ReasonDismissed = "dismissed"
	ReasonEvicted   = "evicted"
	ReasonDeleted   = "deleted"
	ReasonExpired   = "expired"
	ReasonClosed    = "closed"
	ReasonPruned    = "pruned"
)

// NotificationEvent is the payload of notification.* events.
type NotificationEvent struct {
	ID       string                `json:"id"`
	State    notification.State    `json:"state"`
	Priority notification.Priority `json:"priority,omitempty"`
	Category notification.Category `json:"category,omitempty"`
	Title    string                `json:"title,omitempty"`
	Reason   string                `json:"reason,omitempty"`
	At       time.Time             `json:"at"`
}

// DeliveryEvent is the payload of delivery.* events.
type DeliveryEvent struct {
	ID       string                `json:"id"`
	Priority notification.Priority `json:"priority"`
	Until    time.Time             `json:"until,omitempty"`
	Reason   string                `json:"reason,omitempty"`
	At       time.Time             `json:"at"`
}

// PollEvent is the payload of poll.* events.
type PollEvent struct {
	Report *IngestReport `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

func notificationEvent(n *notification.Notification, reason string, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:       n.ID,
		State:    n.State,
		Priority: n.Priority,
		Category: n.Category,
		Title:    n.Title,
		Reason:   reason,
		At:       at,
	}
}
