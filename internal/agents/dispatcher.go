package agents

import (
	"context"
	"sync"

	"github.com/petervdpas/voyage/internal/message"

	"go.opentelemetry.io/otel/attribute"
)

// Publisher delivers an agent reply into a session. *session.Registry
// satisfies it.
type Publisher interface {
	Publish(session string, msg message.Message) bool
}

// Responder produces replies for one human message.
type Responder interface {
	Respond(ctx context.Context, req Request, emit func(Reply))
}

// DefaultQueueSize bounds pending requests per session.
const DefaultQueueSize = 16

// Dispatcher hands human messages to the crew without blocking the caller.
// Each session gets its own lane so replies to one message are published
// before work on the next message in that session starts.
type Dispatcher struct {
	resp      Responder
	pub       Publisher
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	jobs []Request
}

func NewDispatcher(resp Responder, pub Publisher, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		resp:      resp,
		pub:       pub,
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[string]*lane),
	}
}

// Dispatch queues req and returns immediately. It reports false when the
// session's lane is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(req Request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	l, ok := d.lanes[req.Session]
	if !ok {
		l = &lane{}
		d.lanes[req.Session] = l
		d.wg.Add(1)
		go d.drain(req.Session, l)
	}
	if len(l.jobs) >= d.queueSize {
		log.Warnw("agent queue full, dropping message", "session", req.Session, "client", req.ClientID)
		return false
	}
	l.jobs = append(l.jobs, req)
	return true
}

func (d *Dispatcher) drain(key string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.jobs) == 0 || d.ctx.Err() != nil {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		req := l.jobs[0]
		l.jobs = l.jobs[1:]
		d.mu.Unlock()

		d.run(req)
	}
}

func (d *Dispatcher) run(req Request) {
	ctx, span := tracer.Start(d.ctx, "agents.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("voyage.session", req.Session),
		attribute.String("voyage.role", req.Role),
	)

	replies := 0
	d.resp.Respond(ctx, req, func(r Reply) {
		if !d.pub.Publish(req.Session, message.AI(r.Label, r.Content)) {
			log.Debugf("session %s gone, reply from %s discarded", req.Session, r.Label)
			return
		}
		replies++
	})
	span.SetAttributes(attribute.Int("agents.replies", replies))
}

// Close cancels in-flight work and waits for every lane to stop.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
