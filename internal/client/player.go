package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/petervdpas/voyage/internal/speech"
)

// Player plays one clip and returns when playback has finished.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, audio []byte) error

func (f PlayerFunc) Play(ctx context.Context, audio []byte) error { return f(ctx, audio) }

// SilentPlayer finishes immediately.
var SilentPlayer = PlayerFunc(func(context.Context, []byte) error { return nil })

// PacedPlayer plays nothing but takes as long as the clip would, using the
// MP3 frame header to estimate its length. Useful headless.
type PacedPlayer struct {
	// MaxWait caps the wait for very long or mis-probed clips.
	MaxWait time.Duration
}

func (p PacedPlayer) Play(ctx context.Context, audio []byte) error {
	info, err := speech.ProbeMP3(audio)
	if err != nil {
		return fmt.Errorf("probe audio: %w", err)
	}
	d := info.Duration
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandPlayer hands the clip to an external program, e.g.
// ["mpg123", "-q"]; the temp file path is appended as the last argument.
type CommandPlayer struct {
	Command []string
}

func (p CommandPlayer) Play(ctx context.Context, audio []byte) error {
	if len(p.Command) == 0 {
		return errors.New("no player command configured")
	}

	f, err := os.CreateTemp("", "voyage-*.mp3")
	if err != nil {
		return err
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	args := append(append([]string{}, p.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command[0], err, out)
	}
	return nil
}

// NewPlayer builds the player named by kind: "paced", "command" or "none".
func NewPlayer(kind string, command []string) (Player, error) {
	switch kind {
	case "", "paced":
		return PacedPlayer{MaxWait: 2 * time.Minute}, nil
	case "command":
		if len(command) == 0 {
			return nil, errors.New("player \"command\" needs player_command")
		}
		return CommandPlayer{Command: command}, nil
	case "none":
		return SilentPlayer, nil
	default:
		return nil, fmt.Errorf("unknown player %q", kind)
	}
}
