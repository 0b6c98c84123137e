package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/voyage/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got map[string][]message.Content
}

func (p *recordingPublisher) Publish(session string, msg message.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got == nil {
		p.got = make(map[string][]message.Content)
	}
	p.got[session] = append(p.got[session], msg.(message.Content))
	return true
}

func (p *recordingPublisher) count(session string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got[session])
}

func (p *recordingPublisher) contents(session string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.got[session] {
		out = append(out, c.Role+":"+c.Content)
	}
	return out
}

type responderFunc func(ctx context.Context, req Request, emit func(Reply))

func (f responderFunc) Respond(ctx context.Context, req Request, emit func(Reply)) { f(ctx, req, emit) }

func TestDispatchKeepsPerSessionOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(responderFunc(func(ctx context.Context, req Request, emit func(Reply)) {
		time.Sleep(5 * time.Millisecond)
		emit(Reply{Label: "Outfitter", Content: req.Content})
		emit(Reply{Label: "Safety Officer", Content: req.Content})
	}), pub, 8)
	defer d.Close()

	for _, s := range []string{"alpha", "beta"} {
		require.True(t, d.Dispatch(Request{Session: s, Content: "one"}))
		require.True(t, d.Dispatch(Request{Session: s, Content: "two"}))
	}

	for _, s := range []string{"alpha", "beta"} {
		require.Eventually(t, func() bool { return pub.count(s) == 4 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{
			"Outfitter:one", "Safety Officer:one",
			"Outfitter:two", "Safety Officer:two",
		}, pub.contents(s))
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, message.TypeAI, pub.got["alpha"][0].Type)
}

func TestDispatchQueueBound(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	pub := &recordingPublisher{}
	d := NewDispatcher(responderFunc(func(ctx context.Context, req Request, emit func(Reply)) {
		entered <- struct{}{}
		<-release
		emit(Reply{Label: "A", Content: req.Content})
	}), pub, 1)

	require.True(t, d.Dispatch(Request{Session: "s", Content: "1"}))
	<-entered
	assert.True(t, d.Dispatch(Request{Session: "s", Content: "2"}))
	assert.False(t, d.Dispatch(Request{Session: "s", Content: "3"}), "lane is full")
	assert.True(t, d.Dispatch(Request{Session: "other", Content: "x"}), "other sessions unaffected")

	close(release)
	require.Eventually(t, func() bool { return pub.count("s") == 2 }, 2*time.Second, 5*time.Millisecond)

	d.Close()
	assert.False(t, d.Dispatch(Request{Session: "s", Content: "late"}))
}

func TestDispatchWithEngine(t *testing.T) {
	e := newTestEngine(t, Options{InstallDefaults: true}, nil)
	pub := &recordingPublisher{}
	d := NewDispatcher(e, pub, 4)
	defer d.Close()

	require.True(t, d.Dispatch(Request{Session: "s", Role: "captain", Content: "status?", VoyageType: "space"}))
	require.Eventually(t, func() bool { return pub.count("s") == 2 }, 2*time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "Outfitter", pub.got["s"][0].Role)
	assert.Equal(t, "Safety Officer", pub.got["s"][1].Role)
}
