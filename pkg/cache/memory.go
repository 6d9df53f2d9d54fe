package cache

import "container/list"

// memoryTier holds entries in insertion order. Rewriting a key moves it to
// the back, so the front is always the oldest surviving write.
type memoryTier struct {
	capacity int
	order    *list.List // of *Entry, oldest at front
	index    map[string]*list.Element
}

func newMemoryTier(capacity int) *memoryTier {
	return &memoryTier{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (m *memoryTier) get(key string) (*Entry, bool) {
	el, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*Entry), true
}

// put inserts e, evicting the oldest entry first if the tier is full.
// It returns the evicted key, or "" if nothing was evicted.
func (m *memoryTier) put(e *Entry) string {
	if el, ok := m.index[e.Key]; ok {
		m.order.Remove(el)
		delete(m.index, e.Key)
	}

	var evicted string
	if m.order.Len() >= m.capacity {
		if front := m.order.Front(); front != nil {
			evicted = front.Value.(*Entry).Key
			m.order.Remove(front)
			delete(m.index, evicted)
		}
	}

	m.index[e.Key] = m.order.PushBack(e)
	return evicted
}

func (m *memoryTier) remove(key string) bool {
	el, ok := m.index[key]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.index, key)
	return true
}

// removeIf drops every entry matching fn and returns how many were removed.
func (m *memoryTier) removeIf(fn func(*Entry) bool) int {
	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*Entry); fn(e) {
			m.order.Remove(el)
			delete(m.index, e.Key)
			n++
		}
		el = next
	}
	return n
}

func (m *memoryTier) size() int {
	return m.order.Len()
}

func (m *memoryTier) reset() {
	m.order.Init()
	m.index = make(map[string]*list.Element)
}
