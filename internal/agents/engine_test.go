package agents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/petervdpas/voyage/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog map[string][]storage.CatalogRow

func (f fakeCatalog) CatalogItems(voyageType string) ([]storage.CatalogRow, error) {
	return f[voyageType], nil
}

var testCatalog = fakeCatalog{
	"space": {
		{VoyageType: "space", Name: "Zero-Gravity Multi-Tool", Description: "Compact tool kit", Price: 250, Category: "tools"},
		{VoyageType: "space", Name: "Emergency Oxygen Canister", Description: "4-hour backup oxygen supply", Price: 180, Category: "safety"},
	},
}

func newTestEngine(t *testing.T, opts Options, scripts map[string]string) *Engine {
	t.Helper()
	if opts.ScriptDir == "" {
		opts.ScriptDir = t.TempDir()
	}
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(opts.ScriptDir, name+".lua"), []byte(src), 0o644))
	}
	e, err := NewEngine(opts, testCatalog)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func collect(e *Engine, req Request) []Reply {
	var out []Reply
	e.Respond(context.Background(), req, func(r Reply) { out = append(out, r) })
	return out
}

func TestDefaultCrew(t *testing.T) {
	e := newTestEngine(t, Options{InstallDefaults: true}, nil)

	agents := e.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "Outfitter", agents[0].Label)
	assert.Equal(t, 10, agents[0].Order)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", agents[0].Voice)
	assert.Equal(t, "Safety Officer", agents[1].Label)
	assert.NotEmpty(t, agents[1].Description)
	assert.Equal(t, "ErXwobaYiN019PkySvjV", agents[1].Voice)

	replies := collect(e, Request{Session: "s1", Role: "captain", Content: "status?", VoyageType: "space"})
	require.Len(t, replies, 2)
	assert.Equal(t, "Outfitter", replies[0].Label)
	assert.Contains(t, replies[0].Content, "Zero-Gravity Multi-Tool")
	assert.Equal(t, "Safety Officer", replies[1].Label)
	assert.Equal(t, "All clear from safety, CAPTAIN. Report any hazard you spot.", replies[1].Content)

	replies = collect(e, Request{Session: "s1", Role: "specialist", Content: "Oxygen is low, need safety gear", VoyageType: "space", Inventory: "a rope"})
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Content, "Emergency Oxygen Canister")
	assert.Contains(t, replies[0].Content, "You already carry a rope.")
	assert.Contains(t, replies[1].Content, "oxygen reserves")

	replies = collect(e, Request{Session: "s1", Role: "captain", Content: "hello", VoyageType: "desert"})
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Content, "bare for a desert voyage")
}

func TestInstallDefaultsSkipsPopulatedDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mine.lua"), []byte("function respond(m) return 'x' end"), 0o644))

	n, err := InstallDefaults(dir)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = InstallDefaults(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFailingAgentIsSkipped(t *testing.T) {
	e := newTestEngine(t, Options{Timeout: 200 * time.Millisecond}, map[string]string{
		"a_boom": "--- @order 1\nfunction respond(msg) error('boom') end",
		"b_spin": "--- @order 2\nfunction respond(msg) while true do end end",
		"c_ok":   "--- @order 3\nfunction respond(msg) return 'fine' end",
		"d_nil":  "--- @order 4\nfunction respond(msg) return nil end",
	})

	replies := collect(e, Request{Session: "s", Content: "hi"})
	require.Len(t, replies, 1)
	assert.Equal(t, "C Ok", replies[0].Label)
	assert.Equal(t, "fine", replies[0].Content)
}

func TestLongReplyCutOnRuneBoundary(t *testing.T) {
	e := newTestEngine(t, Options{}, map[string]string{
		"chatty": `function respond(m) return string.rep("a", 4095) .. "é" end`,
	})

	replies := collect(e, Request{Session: "s1", Role: "captain", Content: "hi"})
	require.Len(t, replies, 1)
	got := replies[0].Content
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 4095)+"... (truncated)", got)

	assert.Equal(t, "héllo", truncateReply("héllo", 16))
	assert.Equal(t, "h... (truncated)", truncateReply("héllo", 2))
}

func TestSandbox(t *testing.T) {
	e := newTestEngine(t, Options{}, map[string]string{
		"inspector": `
function respond(msg)
  if io ~= nil or require ~= nil or load ~= nil or os.execute ~= nil then
    return "open"
  end
  local t = voyage.json.decode(voyage.json.encode({ n = 3, who = voyage.session.role }))
  return "sealed " .. t.who .. " " .. tostring(t.n) .. " " .. voyage.agent.label
end`,
	})

	replies := collect(e, Request{Session: "s", Role: "captain", Content: "x"})
	require.Len(t, replies, 1)
	assert.Equal(t, "sealed captain 3 Inspector", replies[0].Content)
	assert.NotContains(t, replies[0].Content, "open")
}

func TestHTTPDisabledByDefault(t *testing.T) {
	e := newTestEngine(t, Options{}, map[string]string{
		"net": "function respond(msg) if voyage.http == nil then return 'no http' end return 'http' end",
	})
	replies := collect(e, Request{Session: "s", Content: "x"})
	require.Len(t, replies, 1)
	assert.Equal(t, "no http", replies[0].Content)
}

func TestAgentRateLimit(t *testing.T) {
	e := newTestEngine(t, Options{}, map[string]string{
		"chatty": "--- @rate_limit 2\nfunction respond(msg) return 'hi' end",
	})

	req := Request{Session: "s", Content: "x"}
	assert.Len(t, collect(e, req), 1)
	assert.Len(t, collect(e, req), 1)
	assert.Empty(t, collect(e, req))

	// other sessions have their own budget
	assert.Len(t, collect(e, Request{Session: "t", Content: "x"}), 1)
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, Options{ScriptDir: dir}, nil)
	require.Empty(t, e.Agents())

	path := filepath.Join(dir, "navigator.lua")
	require.NoError(t, os.WriteFile(path, []byte("--- @agent Navigator\nfunction respond(msg) return 'bearing 090' end"), 0o644))

	require.Eventually(t, func() bool {
		a := e.Agents()
		return len(a) == 1 && a[0].Label == "Navigator"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(e.Agents()) == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestCompileSource(t *testing.T) {
	_, err := compileSource("x", "local a = 1")
	assert.ErrorContains(t, err, "no respond()")

	_, err = compileSource("x", "function respond(")
	assert.Error(t, err)

	meta, err := compileSource("deck_hand", "--- Swabs the deck.\n--- @order 7\n--- @rate_limit 0\nfunction respond(m) end")
	require.NoError(t, err)
	assert.Equal(t, "Deck Hand", meta.label)
	assert.Equal(t, "Swabs the deck.", meta.description)
	assert.Equal(t, 7, meta.order)
	assert.Equal(t, 0, meta.rateLimit)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newRateLimiter(1, 3)
	r.now = func() time.Time { return now }

	assert.True(t, r.AllowFunc("s", "a", -1))
	assert.False(t, r.AllowFunc("s", "a", -1))
	assert.True(t, r.AllowFunc("s", "b", -1))
	assert.True(t, r.AllowFunc("t", "a", -1))
	assert.False(t, r.AllowFunc("u", "a", -1), "global cap")
	assert.True(t, r.AllowFunc("u", "a", 0), "unlimited agent")

	now = now.Add(61 * time.Second)
	assert.True(t, r.AllowFunc("s", "a", -1))
}
