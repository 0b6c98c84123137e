package client

import (
	"context"
	"testing"
	"time"

	"github.com/petervdpas/voyage/internal/agents"
	"github.com/petervdpas/voyage/internal/inventory"
	"github.com/petervdpas/voyage/internal/message"
	"github.com/petervdpas/voyage/internal/server"
	"github.com/petervdpas/voyage/internal/speech"
	"github.com/petervdpas/voyage/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoSynth struct{}

func (echoSynth) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return []byte(voiceID + ":" + text), nil
}

// A captain and a specialist share a voyage with the stock crew. A third
// participant asking for the captain seat is turned away. Both humans end
// up with the same transcript: the question, then the Outfitter, then the
// Safety Officer.
func TestVoyageEndToEnd(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.SeedCatalog(inventory.StarterCatalog())
	require.NoError(t, err)

	engine, err := agents.NewEngine(agents.Options{ScriptDir: t.TempDir(), InstallDefaults: true}, db)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	var disp *agents.Dispatcher
	srv := newVoyageServer(t, func(d *server.Deps) {
		disp = agents.NewDispatcher(engine, d.Registry, 8)
		d.Dispatcher = disp
		d.Speech = echoSynth{}
	})
	t.Cleanup(disp.Close)

	api := NewAPI(srv.URL, nil)
	join := func(role string) (*Controller, *Transcript) {
		tr := NewTranscript(0)
		n := NewNarrator(api, SilentPlayer, speech.DefaultVoices(), tr)
		t.Cleanup(n.Close)
		c := NewController(Options{ServerURL: srv.URL, Session: "e2e", Transcript: tr, Narrator: n})
		t.Cleanup(c.Close)
		require.NoError(t, connect(t, c, role))
		return c, tr
	}

	captain, capTr := join("captain")
	_, specTr := join("specialist")

	intruder := newController(t, srv.URL, "e2e")
	var rej *RejectedError
	require.ErrorAs(t, connect(t, intruder, "captain"), &rej)

	roles, err := api.Roles(context.Background(), "e2e")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"captain": true, "specialist": true}, roles)

	require.True(t, captain.Send("status?", &message.Context{VoyageType: "space"}))

	for _, tr := range []*Transcript{capTr, specTr} {
		require.Eventually(t, func() bool { return tr.Len() == 4 }, 5*time.Second, 10*time.Millisecond)
	}

	strip := func(es []Entry) []Entry {
		out := make([]Entry, 0, len(es))
		for _, e := range es[1:] {
			e.At = time.Time{}
			out = append(out, e)
		}
		return out
	}
	capEntries, specEntries := strip(capTr.Entries()), strip(specTr.Entries())
	assert.Equal(t, capEntries, specEntries)

	assert.Equal(t, Entry{Type: message.TypeHuman, Source: "CAPTAIN", Text: "status?"}, capEntries[0])
	assert.Equal(t, "Outfitter", capEntries[1].Source)
	assert.Equal(t, message.TypeAI, capEntries[1].Type)
	assert.Equal(t, "Safety Officer", capEntries[2].Source)
}
