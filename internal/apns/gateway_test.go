package apns

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
)

// fakeGateway accepts in-memory connections and decodes the frames workers
// write. rejectID, when non-zero, is refused once with rejectStatus after
// rejectAfter further frames have been read on the same connection.
type fakeGateway struct {
	rejectID     uint32
	rejectStatus Status
	rejectAfter  int

	mu       sync.Mutex
	received map[uint32]int
	order    []uint32
	rejected bool
	dials    int

	wg sync.WaitGroup
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{received: make(map[uint32]int), rejectStatus: StatusInvalidToken}
}

func (g *fakeGateway) DialContext(ctx context.Context, _ string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()

	g.mu.Lock()
	g.dials++
	g.mu.Unlock()

	g.wg.Go(func() { g.serve(server) })
	return client, nil
}

func (g *fakeGateway) serve(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	pendingReject := -1
	for {
		n, err := DecodeFrame(r)
		if err != nil {
			return
		}

		g.mu.Lock()
		g.received[n.ID()]++
		g.order = append(g.order, n.ID())
		if g.rejectID != 0 && n.ID() == g.rejectID && !g.rejected {
			g.rejected = true
			pendingReject = g.rejectAfter
		}
		g.mu.Unlock()

		if pendingReject == 0 {
			_, _ = conn.Write(EncodeRejection(g.rejectStatus, g.rejectID))
			return
		}
		if pendingReject > 0 {
			pendingReject--
		}
	}
}

func (g *fakeGateway) count(id uint32) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received[id]
}

func (g *fakeGateway) distinct() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.received)
}

func (g *fakeGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

// wait blocks until every served connection has been closed.
func (g *fakeGateway) wait(t *testing.T) {
	t.Helper()
	g.wg.Wait()
}

// testHost is a WorkerHost that never respawns.
type testHost struct {
	dialer     Dialer
	terminated chan *Worker
}

func newTestHost(d Dialer) *testHost {
	return &testHost{dialer: d, terminated: make(chan *Worker, 8)}
}

func (h *testHost) Dialer() Dialer              { return h.dialer }
func (h *testHost) GatewayAddress() string      { return "gateway.test:2195" }
func (h *testHost) WorkerTerminated(w *Worker) { h.terminated <- w }
