package notifier

import (
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
)

// Filter keeps the items whose category is enabled and whose priority meets
// the category minimum. A category without a rule is rejected.
func Filter(items []notification.Notification, s settings.Settings) (admissible []notification.Notification, rejected int) {
	admissible = make([]notification.Notification, 0, len(items))
	for _, n := range items {
		if Admissible(n, s) {
			admissible = append(admissible, n)
		} else {
			rejected++
		}
	}
	return admissible, rejected
}

func Admissible(n notification.Notification, s settings.Settings) bool {
	rule, ok := s.Rule(n.Category)
	if !ok || !rule.Enabled {
		return false
	}
	return n.Priority.MeetsMin(rule.MinPriority)
}
