package notification

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrMissingID = errors.New("notification id is empty")

// Raw is a candidate notification as returned by a fetch collaborator.
// Enum fields are plain strings; Normalize maps them onto the domain types.
type Raw struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Type      string     `json:"type,omitempty"` // legacy alias for kind
	Priority  string     `json:"priority"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Category  string     `json:"category"`
	Timestamp time.Time  `json:"timestamp"`
	GroupKey  string     `json:"group_key,omitempty"`
	GroupKey2 string     `json:"groupKey,omitempty"`
	Action    *ActionRef `json:"action,omitempty"`
	ActionRef *ActionRef `json:"actionRef,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts the camelCase metadata keys the back-office API
// emits alongside the snake_case ones used on disk. camelCase wins when a
// payload carries both.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	type snake Metadata
	var w struct {
		snake
		EntityIDCamel        *string `json:"entityId"`
		EntityTypeCamel      *string `json:"entityType"`
		RetryCountCamel      *int    `json:"retryCount"`
		AutoDismissibleCamel *bool   `json:"autoDismissible"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Metadata(w.snake)
	if w.EntityIDCamel != nil {
		m.EntityID = *w.EntityIDCamel
	}
	if w.EntityTypeCamel != nil {
		m.EntityType = *w.EntityTypeCamel
	}
	if w.RetryCountCamel != nil {
		m.RetryCount = *w.RetryCountCamel
	}
	if w.AutoDismissibleCamel != nil {
		m.AutoDismissible = *w.AutoDismissibleCamel
	}
	return nil
}

// Normalize validates r and converts it into an Unread notification admitted at now.
func (r Raw) Normalize(now time.Time) (Notification, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Notification{}, ErrMissingID
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(r.Kind)))
	if kind == "" {
		kind = Kind(strings.ToLower(strings.TrimSpace(r.Type)))
	}
	switch kind {
	case KindSuccess, KindError, KindWarning, KindInfo:
	default:
		kind = KindInfo
	}

	prio, ok := ParsePriority(r.Priority)
	if !ok {
		prio = PriorityNormal
	}
	cat, ok := ParseCategory(r.Category)
	if !ok {
		cat = CategorySystem
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}

	group := strings.TrimSpace(r.GroupKey)
	if group == "" {
		group = strings.TrimSpace(r.GroupKey2)
	}
	if group == "" {
		group = string(cat)
	}

	n := Notification{
		ID:         id,
		Kind:       kind,
		Priority:   prio,
		Title:      strings.TrimSpace(r.Title),
		Message:    strings.TrimSpace(r.Message),
		Category:   cat,
		Timestamp:  ts,
		GroupKey:   group,
		State:      StateUnread,
		AdmittedAt: now,
		UpdatedAt:  now,
	}
	act := r.Action
	if act == nil || strings.TrimSpace(act.URL) == "" {
		act = r.ActionRef
	}
	if act != nil && strings.TrimSpace(act.URL) != "" {
		n.Action = &ActionRef{URL: strings.TrimSpace(act.URL), Label: strings.TrimSpace(act.Label)}
	}
	if r.Metadata != nil {
		m := *r.Metadata
		if m.Progress < 0 {
			m.Progress = 0
		}
		if m.Progress > 100 {
			m.Progress = 100
		}
		if m.RetryCount < 0 {
			m.RetryCount = 0
		}
		n.Metadata = &m
	}
	return n, nil
}
