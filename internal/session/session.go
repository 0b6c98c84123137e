package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/petervdpas/voyage/internal/message"
)

// Session is one voyage: a role table plus the set of live members. All
// mutation and fan-out happens under mu, which is what gives every member
// the same frame order.
type Session struct {
	reg *Registry
	key string

	mu      sync.Mutex
	holders map[string]string  // exclusive role -> client id
	members map[string]*Member // client id -> member
	closed  bool
}

// Member is an admitted connection. The transport drains Frames and stops
// when Done is closed.
type Member struct {
	session  *Session
	clientID string
	role     string

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(reg *Registry, key string) *Session {
	return &Session{
		reg:     reg,
		key:     key,
		holders: make(map[string]string),
		members: make(map[string]*Member),
	}
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

func (s *Session) admit(clientID, role string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSessionClosed
	}
	if _, dup := s.members[clientID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	if s.reg.exclusive(role) {
		if holder, taken := s.holders[role]; taken && holder != clientID {
			log.Infow("admission rejected", "session", s.key, "role", role, "client", clientID, "holder", holder)
			return nil, &RejectedError{
				Session: s.key,
				Role:    role,
				Reason:  role + " slot occupied",
			}
		}
		s.holders[role] = clientID
	}

	m := &Member{
		session:  s,
		clientID: clientID,
		role:     role,
		frames:   make(chan []byte, s.reg.opts.SendBuffer),
		done:     make(chan struct{}),
	}
	s.members[clientID] = m
	log.Infow("admitted", "session", s.key, "role", role, "client", clientID, "members", len(s.members))

	s.publishLocked(s.statusLocked())
	if s.reg.opts.Announce {
		s.publishLocked(message.System(strings.ToUpper(role) + " joined the voyage."))
	}
	return m, nil
}

// leave removes m, frees its role and tells the rest. The last member out
// closes the session and takes it out of the registry.
func (s *Session) leave(m *Member) {
	s.mu.Lock()
	if s.members[m.clientID] != m {
		s.mu.Unlock()
		return
	}
	freed := s.removeLocked(m)
	empty := len(s.members) == 0
	if empty {
		s.closed = true
	} else {
		if freed {
			s.publishLocked(s.statusLocked())
		}
		if s.reg.opts.Announce {
			s.publishLocked(message.System(strings.ToUpper(m.role) + " left the voyage."))
		}
	}
	s.mu.Unlock()

	log.Infow("left", "session", s.key, "role", m.role, "client", m.clientID)
	if empty {
		s.reg.remove(s)
	}
}

func (s *Session) removeLocked(m *Member) (freed bool) {
	delete(s.members, m.clientID)
	if s.holders[m.role] == m.clientID {
		delete(s.holders, m.role)
		freed = true
	}
	m.close()
	return freed
}

// Publish fans msg out to every member. It reports false if the session
// has already closed.
func (s *Session) Publish(msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.publishLocked(msg)
	return true
}

func (s *Session) publishLocked(msg message.Message) {
	b, err := message.Encode(msg)
	if err != nil {
		log.Warnf("session %s: drop unencodable %s frame: %v", s.key, msg.Kind(), err)
		return
	}

	var slow []*Member
	for _, m := range s.members {
		select {
		case m.frames <- b:
		default:
			slow = append(slow, m)
		}
	}
	if len(slow) == 0 {
		return
	}

	freed := false
	for _, m := range slow {
		log.Warnw("dropping slow member", "session", s.key, "role", m.role, "client", m.clientID)
		if s.removeLocked(m) {
			freed = true
		}
	}
	if len(s.members) == 0 {
		// Lock order is session then registry everywhere, so this is safe.
		s.closed = true
		s.reg.remove(s)
		return
	}
	if freed {
		s.publishLocked(s.statusLocked())
	}
}

// Status returns the current occupancy snapshot.
func (s *Session) Status() message.RoleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() message.RoleStatus {
	data := make(map[string]bool, len(s.reg.opts.Roles))
	for _, role := range s.reg.opts.Roles {
		_, held := s.holders[role]
		data[role] = held
	}
	return message.RoleStatus{Data: data}
}

// Info summarises the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Key:     s.key,
		Members: len(s.members),
		Roles:   s.statusLocked().Data,
	}
}

// ClientID returns the member's client id.
func (m *Member) ClientID() string { return m.clientID }

// Role returns the role the member was admitted with.
func (m *Member) Role() string { return m.role }

// Session returns the owning session.
func (m *Member) Session() *Session { return m.session }

// Frames yields encoded frames in publish order.
func (m *Member) Frames() <-chan []byte { return m.frames }

// Done is closed once the member has left or was dropped.
func (m *Member) Done() <-chan struct{} { return m.done }

// Leave detaches the member from its session. Safe to call more than once.
func (m *Member) Leave() {
	m.session.leave(m)
}

func (m *Member) close() {
	m.once.Do(func() { close(m.done) })
}
