// Package client is the participant side of a voyage: a connection state
// machine, the transcript, and narration of agent replies.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/voyage/internal/message"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("voyage/client")

// CloseRoleOccupied mirrors the server's rejection close code.
const CloseRoleOccupied = 4000

const defaultRejectReason = "This role is already occupied."

var (
	ErrClosed           = errors.New("controller closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrRoleOccupied     = errors.New("role occupied")
	ErrNormalClosure    = errors.New("connection closed")
)

// RejectedError is returned by Connect when the server turned the role down.
type RejectedError struct {
	Role   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("role %s rejected: %s", e.Role, e.Reason)
}

// LostError is returned by Connect when the connection dropped before it
// was established.
type LostError struct {
	Code int
}

func (e *LostError) Error() string {
	return fmt.Sprintf("connection lost (%d)", e.Code)
}

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	RejectedRole
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case RejectedRole:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NewClientID returns a short random client id.
func NewClientID() string {
	return uuid.NewString()[:8]
}

// EventKind tags controller events.
type EventKind int

const (
	EventState EventKind = iota
	EventWarning
	EventRoles
)

// Event is a change a UI may want to show. Warnings are transient and
// never enter the transcript.
type Event struct {
	Kind    EventKind
	State   State
	Warning string
	Roles   map[string]bool
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State
	Role      string
	ClientID  string
	Occupancy map[string]bool
	Warning   string
}

type Options struct {
	// ServerURL is the server's http(s) base URL.
	ServerURL string
	// Session to join. Empty uses the server's default session route.
	Session string
	// HumanRoles are rendered uppercased in the transcript.
	HumanRoles []string
	Transcript *Transcript
	// Narrator receives agent replies. Without one they are revealed at once.
	Narrator *Narrator
	Dialer   *websocket.Dialer
	// WriteTimeout bounds each outgoing frame.
	WriteTimeout time.Duration
}

// Controller owns one participant's connection. All state lives in a
// single event loop goroutine; the public methods and the socket reader
// talk to it over a channel.
type Controller struct {
	opts       Options
	transcript *Transcript
	narrator   *Narrator
	dialer     *websocket.Dialer

	cmds   chan func()
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// loop-owned
	state     State
	role      string
	clientID  string
	occupancy map[string]bool
	warning   string
	conn      *websocket.Conn
	gen       uint64
	pending   chan error
}

func NewController(opts Options) *Controller {
	if opts.Transcript == nil {
		opts.Transcript = NewTranscript(0)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if len(opts.HumanRoles) == 0 {
		opts.HumanRoles = []string{"captain", "specialist"}
	}
	c := &Controller{
		opts:       opts,
		transcript: opts.Transcript,
		narrator:   opts.Narrator,
		dialer:     opts.Dialer,
		cmds:       make(chan func()),
		events:     make(chan Event, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		occupancy:  map[string]bool{},
	}
	go c.loop()
	return c
}

// Transcript returns the transcript the controller appends to.
func (c *Controller) Transcript() *Transcript { return c.transcript }

// Events streams state changes, warnings and occupancy updates. Events are
// dropped when the reader falls behind.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			c.teardown()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) bool {
	ran := make(chan struct{})
	if !c.post(func() { fn(); close(ran) }) {
		return false
	}
	<-ran
	return true
}

// Connect joins the session as role and waits until the server has
// admitted or refused the connection.
func (c *Controller) Connect(ctx context.Context, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))

	var result chan error
	var err error
	if !c.do(func() { result, err = c.startConnect(role) }) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Send publishes content as the bound role. It reports false when not
// connected or when the content is blank.
func (c *Controller) Send(content string, vctx *message.Context) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	ok := false
	c.do(func() { ok = c.send(content, vctx) })
	return ok
}

// Disconnect closes the connection normally.
func (c *Controller) Disconnect() {
	c.do(c.disconnect)
}

// SetOccupancy replaces the known occupancy, e.g. from API.Roles before
// choosing a role.
func (c *Controller) SetOccupancy(roles map[string]bool) {
	c.do(func() { c.setOccupancy(roles) })
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	var st Status
	if !c.do(func() {
		st = Status{
			State:     c.state,
			Role:      c.role,
			ClientID:  c.clientID,
			Occupancy: copyRoles(c.occupancy),
			Warning:   c.warning,
		}
	}) {
		st.State = Disconnected
	}
	return st
}

// Close disconnects, abandons narration and stops the loop.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}

// ── loop side ──

func (c *Controller) startConnect(role string) (chan error, error) {
	if c.state == Connecting || c.state == Connected {
		return nil, ErrAlreadyConnected
	}
	if role == "" {
		return nil, errors.New("role is required")
	}
	if c.occupancy[role] {
		c.warn(fmt.Sprintf("%s slot is currently occupied. Please wait or join as the other role.", titleCase(role)))
		return nil, fmt.Errorf("%w: %s", ErrRoleOccupied, role)
	}

	if c.narrator != nil {
		c.narrator.Reset()
	}
	c.transcript.Reset()

	c.gen++
	gen := c.gen
	c.role = role
	c.clientID = NewClientID()
	c.warning = ""
	c.pending = make(chan error, 1)
	c.setState(Connecting)

	wsURL, err := c.wsURL(c.clientID, role)
	if err != nil {
		c.role, c.clientID = "", ""
		c.setState(Disconnected)
		return nil, err
	}
	go c.dial(gen, wsURL)
	return c.pending, nil
}

func (c *Controller) wsURL(clientID, role string) (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	base := strings.TrimRight(u.Path, "/")
	if c.opts.Session != "" {
		u.Path = base + "/ws/" + c.opts.Session + "/" + clientID + "/" + role
	} else {
		u.Path = base + "/ws/" + clientID + "/" + role
	}
	return u.String(), nil
}

func (c *Controller) dial(gen uint64, wsURL string) {
	conn, _, err := c.dialer.Dial(wsURL, nil)
	if !c.post(func() { c.dialed(gen, conn, err) }) && conn != nil {
		conn.Close()
	}
}

func (c *Controller) dialed(gen uint64, conn *websocket.Conn, err error) {
	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Warnf("dial: %v", err)
		c.role, c.clientID = "", ""
		c.setState(Disconnected)
		c.warn("Connection Failed: " + err.Error())
		c.resolve(fmt.Errorf("dial: %w", err))
		return
	}
	c.conn = conn
	go c.readLoop(gen, conn)
}

func (c *Controller) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, ""
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			c.post(func() { c.closed(gen, code, reason) })
			return
		}
		msg, err := message.Decode(data)
		if err != nil {
			log.Debugf("dropping malformed frame: %v", err)
			continue
		}
		if !c.post(func() { c.received(gen, msg) }) {
			return
		}
	}
}

func (c *Controller) received(gen uint64, msg message.Message) {
	if gen != c.gen {
		return
	}
	// The server speaks first only after admission, so the first frame
	// means we are in.
	if c.state == Connecting {
		c.setState(Connected)
		c.transcript.Append(systemEntry(fmt.Sprintf("Successfully connected as %s. ID: %s", strings.ToUpper(c.role), c.clientID)))
		c.resolve(nil)
	}

	switch m := msg.(type) {
	case message.RoleStatus:
		c.setOccupancy(m.Data)
	case message.Content:
		e := Entry{
			Type:   m.Type,
			Source: SourceLabel(m.Role, c.opts.HumanRoles),
			Text:   m.Content,
			At:     time.Now(),
		}
		if m.Type == message.TypeAI && c.narrator != nil {
			c.narrator.Enqueue(e)
			return
		}
		c.transcript.Append(e)
	}
}

func (c *Controller) closed(gen uint64, code int, reason string) {
	if gen != c.gen {
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	switch code {
	case websocket.CloseNormalClosure:
		c.releaseOwnRole()
		c.role, c.clientID = "", ""
		c.setState(Disconnected)
		c.resolve(ErrNormalClosure)
	case CloseRoleOccupied:
		if reason == "" {
			reason = defaultRejectReason
		}
		role := c.role
		c.occupancy[role] = true
		c.role = ""
		c.setState(RejectedRole)
		c.warn("Connection Failed: " + reason)
		c.resolve(&RejectedError{Role: role, Reason: reason})
	default:
		c.transcript.Append(systemEntry(fmt.Sprintf("Connection lost (%d). Please try reconnecting.", code)))
		c.releaseOwnRole()
		c.role, c.clientID = "", ""
		c.setState(Disconnected)
		c.resolve(&LostError{Code: code})
	}
}

func (c *Controller) send(content string, vctx *message.Context) bool {
	if c.state != Connected || c.conn == nil {
		return false
	}
	b, err := json.Marshal(message.Outbound{Content: content, Role: c.role, Context: vctx})
	if err != nil {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("send: %v", err)
		return false
	}
	return true
}

func (c *Controller) disconnect() {
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
		c.conn = nil
	}
	// Anything the old reader or dialer still reports is stale now.
	c.gen++
	if c.narrator != nil {
		c.narrator.Reset()
	}
	if c.state == Connecting || c.state == Connected {
		c.releaseOwnRole()
		c.role, c.clientID = "", ""
		c.setState(Disconnected)
	}
	c.resolve(ErrNormalClosure)
}

func (c *Controller) teardown() {
	c.disconnect()
}

// resolve answers a Connect that is still waiting.
func (c *Controller) resolve(err error) {
	if c.pending == nil {
		return
	}
	c.pending <- err
	c.pending = nil
}

func (c *Controller) releaseOwnRole() {
	if _, known := c.occupancy[c.role]; known {
		c.occupancy[c.role] = false
	}
}

func (c *Controller) setOccupancy(roles map[string]bool) {
	c.occupancy = copyRoles(roles)
	c.emit(Event{Kind: EventRoles, Roles: copyRoles(roles)})
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	log.Debugf("state %s -> %s", c.state, s)
	c.state = s
	c.emit(Event{Kind: EventState, State: s})
}

func (c *Controller) warn(text string) {
	c.warning = text
	c.emit(Event{Kind: EventWarning, Warning: text})
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func copyRoles(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
