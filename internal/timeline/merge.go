package timeline

import (
	"sort"

	"threadlens/internal/model"
)

// Merge concatenates windows in order, keeps the first occurrence of each ID
// and sorts newest first. Equal timestamps keep merge order.
func Merge(windows ...[]model.Note) model.TimelineWindow {
	total := 0
	for _, w := range windows {
		total += len(w)
	}
	out := make(model.TimelineWindow, 0, total)
	seen := make(map[string]struct{}, total)
	for _, w := range windows {
		for _, n := range w {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
