package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clip returns n bytes of MPEG-1 Layer III at 128kbps, i.e. n/16000 seconds.
func clip(n int) []byte {
	b := make([]byte, n)
	b[0], b[1], b[2], b[3] = 0xFF, 0xFB, 0x90, 0x00
	return b
}

func TestPacedPlayer(t *testing.T) {
	start := time.Now()
	require.NoError(t, PacedPlayer{}.Play(context.Background(), clip(1600)))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, PacedPlayer{}.Play(ctx, clip(160000)), context.Canceled)

	start = time.Now()
	require.NoError(t, PacedPlayer{MaxWait: 20 * time.Millisecond}.Play(context.Background(), clip(160000)))
	assert.Less(t, time.Since(start), time.Second)

	assert.Error(t, PacedPlayer{}.Play(context.Background(), []byte("text")))
}

func TestCommandPlayer(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp3")
	pathFile := filepath.Join(dir, "path")

	p := CommandPlayer{Command: []string{"sh", "-c", `cat "$0" > ` + out + `; printf %s "$0" > ` + pathFile}}
	require.NoError(t, p.Play(context.Background(), []byte("audio-bytes")))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(got))

	tmp, err := os.ReadFile(pathFile)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(tmp), ".mp3"))
	_, err = os.Stat(string(tmp))
	assert.True(t, os.IsNotExist(err), "temp clip is removed after playback")

	err = CommandPlayer{Command: []string{"sh", "-c", "exit 3"}}.Play(context.Background(), []byte("x"))
	assert.Error(t, err)
	assert.Error(t, CommandPlayer{}.Play(context.Background(), []byte("x")))
}

func TestNewPlayer(t *testing.T) {
	p, err := NewPlayer("paced", nil)
	require.NoError(t, err)
	assert.IsType(t, PacedPlayer{}, p)

	_, err = NewPlayer("command", nil)
	assert.Error(t, err)

	p, err = NewPlayer("none", nil)
	require.NoError(t, err)
	assert.NoError(t, p.Play(context.Background(), nil))

	_, err = NewPlayer("vinyl", nil)
	assert.Error(t, err)
}
