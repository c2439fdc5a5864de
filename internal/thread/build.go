package thread

import (
	"sort"

	"threadlens/internal/model"
)

// Build classifies a flat conversation listing around root.
//
// Notes older than root are ancestors (oldest first), newer notes are
// descendants (newest first). A note sharing root's timestamp counts as an
// ancestor only when root replies to it directly. Duplicates keep their first
// occurrence, the root itself is dropped, and ties keep listing order.
func Build(root model.Note, listing []model.Note) model.Thread {
	t := model.Thread{Root: root, Ancestors: []model.Note{}, Descendants: []model.Note{}}
	seen := make(map[string]struct{}, len(listing)+1)
	seen[root.ID] = struct{}{}
	for _, n := range listing {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		switch {
		case n.CreatedAt.Before(root.CreatedAt):
			t.Ancestors = append(t.Ancestors, n)
		case n.CreatedAt.After(root.CreatedAt):
			t.Descendants = append(t.Descendants, n)
		case root.RepliesTo(n.ID):
			t.Ancestors = append(t.Ancestors, n)
		default:
			t.Descendants = append(t.Descendants, n)
		}
	}
	sort.SliceStable(t.Ancestors, func(i, j int) bool {
		return t.Ancestors[i].CreatedAt.Before(t.Ancestors[j].CreatedAt)
	})
	sort.SliceStable(t.Descendants, func(i, j int) bool {
		return t.Descendants[i].CreatedAt.After(t.Descendants[j].CreatedAt)
	})
	return t
}
