package apns

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestNotifications builds count notifications with identifiers from, from+1, ...
func newTestNotifications(t *testing.T, from uint32, count int) []*Notification {
	t.Helper()

	out := make([]*Notification, 0, count)
	for i := range count {
		id := from + uint32(i)
		tok, err := ParseToken(fmt.Sprintf("%064x", id))
		require.NoError(t, err)
		n, err := NewNotification(id, tok, []byte(`{"aps":{"alert":"test"}}`))
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func ids(list []*Notification) []uint32 {
	out := make([]uint32, len(list))
	for i, n := range list {
		out[i] = n.ID()
	}
	return out
}

func idRange(from, to uint32) []uint32 {
	var out []uint32
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}
