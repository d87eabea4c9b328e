package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a paho.Token that is already complete.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return waitToken(context.Background(), t, d) }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

// fakePaho implements the parts of paho.Client the client uses.
type fakePaho struct {
	paho.Client

	mu           sync.Mutex
	connected    bool
	connectErr   error
	connectHangs bool
	publishErr   error
	published    map[string][][]byte
	disconnects  int
}

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectHangs {
		return newFakeToken(nil, false)
	}
	f.connected = f.connectErr == nil
	return newFakeToken(f.connectErr, true)
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, _ byte, _ bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	if f.publishErr == nil {
		f.published[topic] = append(f.published[topic], payload.([]byte))
	}
	return newFakeToken(f.publishErr, true)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[topic]
}

// recordingClient is an in-memory Client.
type recordingClient struct {
	mu        sync.Mutex
	connected bool
	block     chan struct{}
	topics    []string
	payloads  [][]byte
}

func (r *recordingClient) Connect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return nil
}

func (r *recordingClient) Disconnect() {}

func (r *recordingClient) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *recordingClient) Publish(_ context.Context, topic string, payload []byte) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingClient) snapshot() ([]string, [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...), append([][]byte(nil), r.payloads...)
}
