package apns

import (
	"container/list"
	"sync"
)

// SentCache is a bounded record of notifications written on one connection,
// oldest first. It resolves rejections, which reference an identifier and
// implicitly everything written after it.
//
// Eviction is plain loss: an evicted notification is neither retried nor
// reported if it is later rejected. Capacity therefore bounds the retry window.
type SentCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[uint32]*list.Element
	evicted  uint64
	onEvict  func(*Notification)
}

// NewSentCache creates a cache holding at most capacity notifications.
// onEvict, if non-nil, is called with the cache lock held.
func NewSentCache(capacity int, onEvict func(*Notification)) *SentCache {
	capacity = max(capacity, 1)
	return &SentCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint32]*list.Element, capacity),
		onEvict:  onEvict,
	}
}

// Add records n, evicting the oldest entry when full.
func (c *SentCache) Add(n *Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[n.id]; ok {
		c.order.Remove(el)
		delete(c.index, n.id)
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		evicted := c.order.Remove(oldest).(*Notification)
		delete(c.index, evicted.id)
		c.evicted++
		if c.onEvict != nil {
			c.onEvict(evicted)
		}
	}
	c.index[n.id] = c.order.PushBack(n)
}

// TakeByID removes and returns the notification with the given identifier.
func (c *SentCache) TakeByID(id uint32) (*Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[id]
	if !ok {
		return nil, false
	}
	c.order.Remove(el)
	delete(c.index, id)
	return el.Value.(*Notification), true
}

// TakeAllFromIDInclusive returns the notification with identifier id and
// every notification added after it, in insertion order, and empties the
// cache. A miss returns nil and still empties the cache.
func (c *SentCache) TakeAllFromIDInclusive(id uint32) []*Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Notification
	if el, ok := c.index[id]; ok {
		for ; el != nil; el = el.Next() {
			out = append(out, el.Value.(*Notification))
		}
	}
	c.order.Init()
	clear(c.index)
	return out
}

// Len returns the number of cached notifications.
func (c *SentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured capacity.
func (c *SentCache) Capacity() int { return c.capacity }

// Evicted returns how many notifications have been evicted so far.
func (c *SentCache) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
