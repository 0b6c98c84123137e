// Package session holds the server side of a voyage: per-session role
// tables, admission, and the ordered fan-out of frames to members.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/petervdpas/voyage/internal/message"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("voyage/session")

var (
	ErrUnknownRole     = errors.New("unknown role")
	ErrMissingClientID = errors.New("client id is required")
	ErrMissingSession  = errors.New("session key is required")
	ErrDuplicateClient = errors.New("client id already connected")

	errSessionClosed = errors.New("session closed")
)

// DefaultRoles is the exclusive role set used when none is configured.
var DefaultRoles = []string{"captain", "specialist"}

const DefaultSendBuffer = 64

// RejectedError is returned by Admit when the requested role is held by
// another connection. Reason is meant for the person who asked.
type RejectedError struct {
	Session string
	Role    string
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session %s: %s", e.Session, e.Reason)
}

// Options configures the role set shared by all sessions of a registry.
type Options struct {
	// Roles are exclusive: at most one member may hold each.
	Roles []string
	// OpenRoles may be held by any number of members and are not part of
	// the occupancy snapshot.
	OpenRoles []string
	// SendBuffer is the per-member frame backlog before the member is
	// considered too slow and dropped.
	SendBuffer int
	// Announce publishes join/leave notices as system messages.
	Announce bool
}

// Registry maps session keys to live sessions. Sessions are created on
// first admission and removed once their last member leaves.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. An empty role list falls back to
// captain/specialist.
func NewRegistry(opts Options) *Registry {
	if len(opts.Roles) == 0 {
		opts.Roles = DefaultRoles
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	roles := make([]string, 0, len(opts.Roles))
	for _, r := range opts.Roles {
		roles = append(roles, normalizeRole(r))
	}
	open := make([]string, 0, len(opts.OpenRoles))
	for _, r := range opts.OpenRoles {
		open = append(open, normalizeRole(r))
	}
	opts.Roles, opts.OpenRoles = roles, open

	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Roles returns the exclusive role set.
func (r *Registry) Roles() []string {
	return append([]string(nil), r.opts.Roles...)
}

// OpenRoles returns the roles any number of members may hold.
func (r *Registry) OpenRoles() []string {
	return append([]string(nil), r.opts.OpenRoles...)
}

// Admit claims role in the session named key for clientID. On success the
// new occupancy snapshot has already been published to every member,
// the new one included.
func (r *Registry) Admit(key, clientID, role string) (*Member, error) {
	key = strings.TrimSpace(key)
	clientID = strings.TrimSpace(clientID)
	role = normalizeRole(role)

	if key == "" {
		return nil, ErrMissingSession
	}
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	if !r.knownRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	for {
		s := r.getOrCreate(key)
		m, err := s.admit(clientID, role)
		if errors.Is(err, errSessionClosed) {
			// Lost a race with the last member leaving; the session is on
			// its way out of the map, so take a fresh one.
			continue
		}
		return m, err
	}
}

// Publish hands msg to every member of the session in call order. It
// reports false when no such session is live.
func (r *Registry) Publish(key string, msg message.Message) bool {
	s := r.Get(key)
	if s == nil {
		return false
	}
	return s.Publish(msg)
}

// Get returns the live session for key, or nil. Keys are matched the way
// Admit stores them, without surrounding spaces.
func (r *Registry) Get(key string) *Session {
	key = strings.TrimSpace(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// Status returns the occupancy snapshot for key. A session that does not
// exist has every role free.
func (r *Registry) Status(key string) message.RoleStatus {
	if s := r.Get(key); s != nil {
		return s.Status()
	}
	data := make(map[string]bool, len(r.opts.Roles))
	for _, role := range r.opts.Roles {
		data[role] = false
	}
	return message.RoleStatus{Data: data}
}

// Info describes a live session.
type Info struct {
	Key     string          `json:"key"`
	Members int             `json:"members"`
	Roles   map[string]bool `json:"roles"`
}

// List returns the live sessions ordered by key.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) getOrCreate(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		s = newSession(r, key)
		r.sessions[key] = s
		log.Debugf("session %s created", key)
	}
	return s
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if r.sessions[s.key] == s {
		delete(r.sessions, s.key)
		log.Debugf("session %s removed", s.key)
	}
	r.mu.Unlock()
}

func (r *Registry) knownRole(role string) bool {
	return r.exclusive(role) || r.open(role)
}

func (r *Registry) exclusive(role string) bool {
	for _, x := range r.opts.Roles {
		if x == role {
			return true
		}
	}
	return false
}

func (r *Registry) open(role string) bool {
	for _, x := range r.opts.OpenRoles {
		if x == role {
			return true
		}
	}
	return false
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
