package client

import (
	"context"
	"sync"

	"github.com/petervdpas/voyage/internal/speech"
)

// Speaker turns text into audio. *API satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Narrator reads agent replies aloud one at a time, in arrival order. A
// reply's text is revealed in the transcript only once its audio is ready,
// or immediately if synthesis fails. The head of the queue is removed after
// its playback finishes.
type Narrator struct {
	speaker    Speaker
	player     Player
	voices     speech.VoiceMap
	transcript *Transcript

	mu     sync.Mutex
	queue  []Entry
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	wake chan struct{}
	slot chan struct{} // held while one entry is being narrated
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func NewNarrator(speaker Speaker, player Player, voices speech.VoiceMap, transcript *Transcript) *Narrator {
	if player == nil {
		player = SilentPlayer
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Narrator{
		speaker:    speaker,
		player:     player,
		voices:     voices,
		transcript: transcript,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		slot:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go n.loop()
	return n
}

// Enqueue adds an agent reply behind everything already waiting. It never
// blocks on narration.
func (n *Narrator) Enqueue(e Entry) {
	n.mu.Lock()
	n.queue = append(n.queue, e)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Pending counts entries not yet finished, the one being narrated included.
func (n *Narrator) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Busy reports whether an entry is being narrated right now.
func (n *Narrator) Busy() bool {
	return len(n.slot) == 1
}

// Reset drops everything queued and abandons the entry in flight; its text
// is not revealed.
func (n *Narrator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	n.queue = nil
	n.cancel()
	n.ctx, n.cancel = context.WithCancel(context.Background())
}

// Close stops the narrator. Entries still queued are discarded.
func (n *Narrator) Close() {
	n.once.Do(func() {
		n.Reset()
		close(n.quit)
	})
	<-n.done
}

func (n *Narrator) loop() {
	defer close(n.done)
	for {
		select {
		case <-n.quit:
			return
		case <-n.wake:
		}

		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			head, gen, ctx := n.queue[0], n.gen, n.ctx
			n.mu.Unlock()

			n.narrate(ctx, gen, head)

			select {
			case <-n.quit:
				return
			default:
			}
		}
	}
}

func (n *Narrator) narrate(ctx context.Context, gen uint64, e Entry) {
	n.slot <- struct{}{}
	defer func() { <-n.slot }()

	voice := n.voices.For(e.Source)
	audio, err := n.speaker.Speak(ctx, e.Text, voice)
	if err != nil {
		log.Warnf("speech unavailable for %s, showing text: %v", e.Source, err)
		n.reveal(gen, e)
		n.pop(gen)
		return
	}

	n.reveal(gen, e)
	if err := n.player.Play(ctx, audio); err != nil {
		log.Warnf("playback failed for %s: %v", e.Source, err)
	}
	n.pop(gen)
}

func (n *Narrator) reveal(gen uint64, e Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen == n.gen {
		n.transcript.Append(e)
	}
}

func (n *Narrator) pop(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen == n.gen && len(n.queue) > 0 {
		n.queue = n.queue[1:]
	}
}
