package push

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
)

const (
	testGateway  = "gateway.test:2195"
	testFeedback = "feedback.test:2196"
)

// testGatewayServer serves both endpoints over in-memory pipes. Tokens in
// reject are refused once with rejectStatus; stall makes the gateway stop
// reading so writes back up.
type testGatewayServer struct {
	reject       map[string]bool
	rejectStatus apns.Status
	stall        bool
	feedback     []apns.FeedbackTuple

	mu       sync.Mutex
	received map[string]int
	rejected map[string]bool
	dials    int

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newTestGatewayServer() *testGatewayServer {
	return &testGatewayServer{
		reject:       make(map[string]bool),
		rejectStatus: apns.StatusInvalidToken,
		received:     make(map[string]int),
		rejected:     make(map[string]bool),
		closed:       make(chan struct{}),
	}
}

func (g *testGatewayServer) factory() (apns.Dialer, error) { return g, nil }

func (g *testGatewayServer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()

	g.mu.Lock()
	g.dials++
	g.mu.Unlock()

	switch {
	case address == testFeedback:
		g.wg.Go(func() { g.serveFeedback(server) })
	case g.stall:
		g.wg.Go(func() { g.serveStalled(server) })
	default:
		g.wg.Go(func() { g.serveGateway(server) })
	}
	return client, nil
}

func (g *testGatewayServer) serveGateway(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		n, err := apns.DecodeFrame(r)
		if err != nil {
			return
		}
		token := n.Token().String()

		g.mu.Lock()
		g.received[token]++
		refuse := g.reject[token] && !g.rejected[token]
		if refuse {
			g.rejected[token] = true
		}
		g.mu.Unlock()

		if refuse {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write(apns.EncodeRejection(g.rejectStatus, n.ID()))
			return
		}
	}
}

func (g *testGatewayServer) serveStalled(conn net.Conn) {
	<-g.closed
	_ = conn.Close()
}

func (g *testGatewayServer) serveFeedback(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	for _, t := range g.feedback {
		if _, err := conn.Write(apns.EncodeFeedbackTuple(t.Timestamp, t.Token)); err != nil {
			return
		}
	}
}

func (g *testGatewayServer) count(token string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received[token]
}

func (g *testGatewayServer) distinct() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.received)
}

func (g *testGatewayServer) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

// shutdown releases stalled connections and waits for every served one.
func (g *testGatewayServer) shutdown() {
	g.once.Do(func() { close(g.closed) })
	g.wg.Wait()
}
