package client

import (
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/voyage/internal/message"
	"github.com/petervdpas/voyage/internal/util"
)

// DefaultTranscriptSize is how many entries a transcript keeps.
const DefaultTranscriptSize = 500

// Entry is one visible transcript line.
type Entry struct {
	Type   message.Type `json:"type"`
	Source string       `json:"source"`
	Text   string       `json:"text"`
	At     time.Time    `json:"at"`
}

func systemEntry(text string) Entry {
	return Entry{Type: message.TypeSystem, Source: "System", Text: text, At: time.Now()}
}

// Transcript is the ordered, bounded list of revealed messages.
type Transcript struct {
	mu        sync.RWMutex
	entries   *util.RingBuffer[Entry]
	listeners []chan Entry
}

func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{entries: util.NewRingBuffer[Entry](size)}
}

// Append adds e and notifies subscribers. Subscribers that are not keeping
// up miss entries; the transcript itself never blocks.
func (t *Transcript) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Push(e)
	for _, ch := range t.listeners {
		select {
		case ch <- e:
		default:
		}
	}
}

// Entries returns the transcript oldest first.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Snapshot()
}

// Texts is Entries reduced to their text.
func (t *Transcript) Texts() []string {
	var out []string
	for _, e := range t.Entries() {
		out = append(out, e.Text)
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Len()
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Reset()
}

// Subscribe returns a channel that receives new entries.
func (t *Transcript) Subscribe() <-chan Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Entry, 32)
	t.listeners = append(t.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (t *Transcript) Unsubscribe(ch <-chan Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l == ch {
			close(l)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// SourceLabel renders who a message came from: known human roles
// uppercased, agents by their own label, anything unlabelled as System.
func SourceLabel(role string, humanRoles []string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return "System"
	}
	for _, r := range humanRoles {
		if strings.EqualFold(r, role) {
			return strings.ToUpper(role)
		}
	}
	return role
}
