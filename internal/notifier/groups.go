package notifier

import (
	"sort"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

// ComputeGroups derives groups from items (in store order). Groups are sorted
// by latest timestamp, newest first; ties keep first-appearance order.
func ComputeGroups(items []notification.Notification) []notification.Group {
	idx := map[string]int{}
	groups := make([]notification.Group, 0)
	for _, n := range items {
		key := n.GroupKey
		if key == "" {
			key = string(n.Category)
		}
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, notification.Group{GroupID: key, Category: n.Category})
		}
		g := &groups[i]
		g.MemberIDs = append(g.MemberIDs, n.ID)
		if n.Timestamp.After(g.LatestTimestamp) {
			g.LatestTimestamp = n.Timestamp
		}
		if n.Unread() {
			g.UnreadCount++
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].LatestTimestamp.After(groups[j].LatestTimestamp)
	})
	return groups
}
