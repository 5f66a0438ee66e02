package dashboard

import (
	"sync"

	"github.com/Nourkes/iot-project/internal/model"
)

// HistoryWindow keeps the last size readings in timestamp order.
type HistoryWindow struct {
	mu    sync.RWMutex
	items []model.Reading
	size  int
}

func NewHistoryWindow(size int) *HistoryWindow {
	if size <= 0 {
		size = 100
	}
	return &HistoryWindow{items: make([]model.Reading, 0, size), size: size}
}

// Add appends r, evicting the oldest reading when full. A reading that is not
// newer than the last one (a redelivery, or out of order) is ignored.
func (h *HistoryWindow) Add(r model.Reading) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.items); n > 0 && !r.Timestamp.After(h.items[n-1].Timestamp) {
		return false
	}
	if len(h.items) == h.size {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.size-1]
	}
	h.items = append(h.items, r)
	return true
}

// Snapshot returns a copy, oldest first.
func (h *HistoryWindow) Snapshot() []model.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]model.Reading(nil), h.items...)
}

func (h *HistoryWindow) Last() (model.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return model.Reading{}, false
	}
	return h.items[len(h.items)-1], true
}

func (h *HistoryWindow) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func (h *HistoryWindow) Clear() {
	h.mu.Lock()
	h.items = h.items[:0]
	h.mu.Unlock()
}
