package models

// Watermark is the set of item ids already written to a user's index.
// Insertion order is kept so the persisted blob is stable across runs.
type Watermark struct {
	UserID string
	ids    []string
	set    map[string]struct{}
}

// NewWatermark builds a watermark from ids, dropping duplicates
func NewWatermark(userID string, ids []string) *Watermark {
	w := &Watermark{
		UserID: userID,
		ids:    make([]string, 0, len(ids)),
		set:    make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		w.Add(id)
	}
	return w
}

// Contains reports whether id is already indexed
func (w *Watermark) Contains(id string) bool {
	_, ok := w.set[id]
	return ok
}

// Add inserts id and reports whether it was new
func (w *Watermark) Add(id string) bool {
	if w.Contains(id) {
		return false
	}
	w.set[id] = struct{}{}
	w.ids = append(w.ids, id)
	return true
}

// Len returns the number of ids
func (w *Watermark) Len() int {
	return len(w.ids)
}

// IDs returns a copy of the ids in insertion order
func (w *Watermark) IDs() []string {
	out := make([]string, len(w.ids))
	copy(out, w.ids)
	return out
}

// Missing returns the distinct ids of fetched not present in the watermark,
// in first-seen order.
func (w *Watermark) Missing(fetched []string) []string {
	seen := make(map[string]struct{}, len(fetched))
	out := make([]string, 0, len(fetched))
	for _, id := range fetched {
		if w.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
