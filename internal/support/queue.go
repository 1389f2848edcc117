package support

import "sync"

// QueueItem is one waiting hand-off request.
type QueueItem struct {
	RoomID       string
	UserName     string
	UserNickname string
}

// Queue is the ordered list of pending hand-off requests. Arrival order is
// preserved; merges never reorder existing entries.
type Queue struct {
	mu    sync.Mutex
	items []QueueItem
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued requests in arrival order.
func (q *Queue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Get returns the queued request for roomID, if present.
func (q *Queue) Get(roomID string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.RoomID == roomID {
			return it, true
		}
	}
	return QueueItem{}, false
}

// Upsert adds item, or refreshes the display fields of an existing entry in
// place. Returns true when the item was newly added.
func (q *Queue) Upsert(item QueueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.RoomID == item.RoomID {
			q.items[i].UserName = item.UserName
			q.items[i].UserNickname = item.UserNickname
			return false
		}
	}
	q.items = append(q.items, item)
	return true
}

// Merge appends the items that are not yet queued and not excluded by skip,
// preserving both the existing order and the order of the incoming list.
// Returns the number of items added.
func (q *Queue) Merge(items []QueueItem, skip func(roomID string) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	present := make(map[string]bool, len(q.items))
	for _, it := range q.items {
		present[it.RoomID] = true
	}

	added := 0
	for _, it := range items {
		if it.RoomID == "" || present[it.RoomID] {
			continue
		}
		if skip != nil && skip(it.RoomID) {
			continue
		}
		q.items = append(q.items, it)
		present[it.RoomID] = true
		added++
	}
	return added
}

// Remove drops the request for roomID. Returns true if it was present.
func (q *Queue) Remove(roomID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.RoomID == roomID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}
