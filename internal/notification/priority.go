package notification

import "strings"

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// MinPriorityAll is the per-category threshold that admits every priority.
const MinPriorityAll = "all"

// Rank orders priorities low < normal < high < critical. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 0
	}
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

// Urgent reports whether p qualifies for the delivery queue and desktop toasts.
func (p Priority) Urgent() bool { return p == PriorityCritical || p == PriorityHigh }

func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// ValidMinPriority accepts "all" or any priority name.
func ValidMinPriority(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == MinPriorityAll {
		return true
	}
	_, ok := ParsePriority(s)
	return ok
}

// MeetsMin reports whether p passes a per-category minimum ("all" admits everything).
func (p Priority) MeetsMin(min string) bool {
	min = strings.ToLower(strings.TrimSpace(min))
	if min == MinPriorityAll {
		return true
	}
	return p.Rank() >= Priority(min).Rank() && Priority(min).Valid()
}
