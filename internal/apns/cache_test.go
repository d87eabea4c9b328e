package apns

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	var evicted []uint32
	c := NewSentCache(3, func(n *Notification) { evicted = append(evicted, n.ID()) })

	for _, n := range newTestNotifications(t, 1, 5) {
		c.Add(n)
		assert.LessOrEqual(t, c.Len(), 3)
	}

	assert.Equal(t, []uint32{1, 2}, evicted)
	assert.Equal(t, uint64(2), c.Evicted())

	_, ok := c.TakeByID(2)
	assert.False(t, ok, "evicted entries are gone")

	n, ok := c.TakeByID(4)
	require.True(t, ok)
	assert.Equal(t, uint32(4), n.ID())
	assert.Equal(t, 2, c.Len())

	_, ok = c.TakeByID(4)
	assert.False(t, ok, "take removes the entry")
}

func TestSentCacheTakeAllFromIDInclusive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   uint32
		want []uint32
	}{
		{"oldest returns everything", 1, idRange(1, 6)},
		{"middle returns the tail", 4, idRange(4, 6)},
		{"newest returns itself", 6, []uint32{6}},
		{"miss returns nothing", 99, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewSentCache(10, nil)
			for _, n := range newTestNotifications(t, 1, 6) {
				c.Add(n)
			}

			got := c.TakeAllFromIDInclusive(tt.id)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, ids(got))
			}
			assert.Zero(t, c.Len(), "cache is cleared regardless of the key")
		})
	}
}

func TestSentCacheReAddMovesToBack(t *testing.T) {
	t.Parallel()

	c := NewSentCache(10, nil)
	list := newTestNotifications(t, 1, 3)
	for _, n := range list {
		c.Add(n)
	}
	c.Add(list[0])

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []uint32{2, 3, 1}, ids(c.TakeAllFromIDInclusive(2)))
}

func TestSentCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewSentCache(50, nil)
	list := newTestNotifications(t, 1, 400)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Go(func() {
			for i := g; i < len(list); i += 4 {
				c.Add(list[i])
				c.TakeByID(list[i].ID() - 1)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
