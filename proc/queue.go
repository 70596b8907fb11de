package proc

import "time"

// Queue is the ordered list of pending items. It is owned by the scheduler
// worker and is not safe for concurrent use.
type Queue struct {
	items []PlaybackItem
}

func (q *Queue) Append(item PlaybackItem) {
	q.items = append(q.items, item)
}

// Prepend pushes item to the head.
func (q *Queue) Prepend(item PlaybackItem) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = item
}

// Dequeue removes and returns the head.
func (q *Queue) Dequeue() (PlaybackItem, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) Peek() (PlaybackItem, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *Queue) Len() int { return len(q.items) }

// Clear empties the queue and returns the dropped count and known duration.
func (q *Queue) Clear() (int, time.Duration) {
	n, d := len(q.items), q.Duration()
	q.items = nil
	return n, d
}

// Duration sums the known remaining duration of pending items.
func (q *Queue) Duration() time.Duration {
	var total time.Duration
	for _, it := range q.items {
		total += remaining(it, 0)
	}
	return total
}

func (q *Queue) Snapshot() []PlaybackItem {
	out := make([]PlaybackItem, len(q.items))
	copy(out, q.items)
	return out
}

// HistoryRing keeps the most recent dispatched items, newest first.
type HistoryRing struct {
	items []PlaybackItem
	size  int
}

func NewHistoryRing(size int) *HistoryRing {
	if size < 1 {
		size = 1
	}
	return &HistoryRing{size: size}
}

func (h *HistoryRing) Push(item PlaybackItem) {
	h.items = append([]PlaybackItem{item}, h.items...)
	if len(h.items) > h.size {
		h.items[h.size] = nil
		h.items = h.items[:h.size]
	}
}

// Get returns the n-th most recent item (1-based). n is clamped to the ring
// size; values below 1 mean the newest.
func (h *HistoryRing) Get(n int) (PlaybackItem, bool) {
	if n > h.size {
		n = h.size
	}
	if n < 1 {
		n = 1
	}
	if n > len(h.items) {
		return nil, false
	}
	return h.items[n-1], true
}

// Take removes and returns the n-th most recent item. Dispatching it again
// pushes it back to the front.
func (h *HistoryRing) Take(n int) (PlaybackItem, bool) {
	item, ok := h.Get(n)
	if !ok {
		return nil, false
	}
	if n < 1 {
		n = 1
	}
	if n > h.size {
		n = h.size
	}
	h.items = append(h.items[:n-1], h.items[n:]...)
	return item, true
}

func (h *HistoryRing) Len() int { return len(h.items) }

func (h *HistoryRing) Snapshot() []PlaybackItem {
	out := make([]PlaybackItem, len(h.items))
	copy(out, h.items)
	return out
}
