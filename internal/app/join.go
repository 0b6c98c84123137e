package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/petervdpas/voyage/internal/client"
	"github.com/petervdpas/voyage/internal/config"
	"github.com/petervdpas/voyage/internal/message"
	"github.com/petervdpas/voyage/internal/speech"
)

// JoinOptions configures a terminal participant.
type JoinOptions struct {
	Cfg     config.Config
	Session string
	Role    string
	// VoyageType and Inventory ride along with every message for the crew.
	VoyageType string
	Inventory  string
	In         io.Reader
	Out        io.Writer
	// Player overrides cfg.Client.Player.
	Player client.Player
	// DrainTimeout bounds how long replies are awaited after input ends.
	DrainTimeout time.Duration
}

// DefaultDrainTimeout is how long Join keeps narrating after end of input.
const DefaultDrainTimeout = 15 * time.Second

const drainQuiet = time.Second

// Join connects to a session as one role and relays lines between the
// terminal and the session. It returns when "/quit" is typed, the
// connection goes away, ctx is cancelled, or input has ended and the
// crew's replies have been narrated.
func Join(ctx context.Context, opt JoinOptions) error {
	cfg := opt.Cfg
	out := opt.Out
	if out == nil {
		out = io.Discard
	}

	player := opt.Player
	if player == nil {
		p, err := client.NewPlayer(cfg.Client.Player, cfg.Client.PlayerCommand)
		if err != nil {
			return err
		}
		player = p
	}

	api := client.NewAPI(cfg.Client.ServerURL, nil)

	key := opt.Session
	if key == "" {
		key = cfg.Session.DefaultKey
	}
	voices := speech.NewVoiceMap(cfg.Speech.Voices, cfg.Speech.DefaultVoice)
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	roles, rolesErr := api.Roles(rctx, key)
	if crew, err := api.Agents(rctx); err == nil {
		voices = voices.With(client.AgentVoices(crew))
	} else {
		log.Debugf("agents: %v", err)
	}
	cancel()

	transcript := client.NewTranscript(client.DefaultTranscriptSize)
	narrator := client.NewNarrator(api, player, voices, transcript)
	defer narrator.Close()

	ctrl := client.NewController(client.Options{
		ServerURL:  cfg.Client.ServerURL,
		Session:    opt.Session,
		HumanRoles: cfg.Session.Roles,
		Transcript: transcript,
		Narrator:   narrator,
	})
	defer ctrl.Close()

	if rolesErr == nil {
		ctrl.SetOccupancy(roles)
	} else {
		log.Debugf("roles for %s: %v", key, rolesErr)
	}

	entries := transcript.Subscribe()
	defer transcript.Unsubscribe(entries)

	var vctx *message.Context
	if opt.VoyageType != "" || opt.Inventory != "" {
		vctx = &message.Context{VoyageType: opt.VoyageType, Inventory: opt.Inventory}
	}

	connected := make(chan error, 1)
	go func() { connected <- ctrl.Connect(ctx, opt.Role) }()

	var lines chan string
	if opt.In != nil {
		done := make(chan struct{})
		defer close(done)
		lines = make(chan string)
		go readLines(opt.In, lines, done)
	}

	flush := func() {
		for {
			select {
			case e := <-entries:
				printEntry(out, e)
			default:
				return
			}
		}
	}

	drainFor := opt.DrainTimeout
	if drainFor <= 0 {
		drainFor = DefaultDrainTimeout
	}

	// Input is held back until the server has answered the connect.
	var input chan string
	up := false

	// After input ends, replies still on their way are shown before
	// leaving: wait until narration is idle and the session has been quiet
	// for drainQuiet, or until drainFor has passed.
	var (
		drainTick     <-chan time.Time
		drainDeadline <-chan time.Time
		lastActivity  time.Time
	)
	leave := func() error {
		ctrl.Disconnect()
		flush()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return leave()

		case err := <-connected:
			if err != nil {
				flush()
				return err
			}
			up = true
			input = lines

		case e := <-entries:
			printEntry(out, e)
			lastActivity = time.Now()

		case <-drainTick:
			if narrator.Pending() == 0 && time.Since(lastActivity) >= drainQuiet {
				return leave()
			}

		case <-drainDeadline:
			return leave()

		case ev := <-ctrl.Events():
			switch ev.Kind {
			case client.EventWarning:
				fmt.Fprintf(out, "! %s\n", ev.Warning)
			case client.EventState:
				if up && (ev.State == client.Disconnected || ev.State == client.RejectedRole) {
					// Give the last notices a moment to land.
					time.Sleep(50 * time.Millisecond)
					flush()
					return nil
				}
			}

		case line, ok := <-input:
			if !ok {
				input = nil
				lastActivity = time.Now()
				ticker := time.NewTicker(50 * time.Millisecond)
				defer ticker.Stop()
				drainTick = ticker.C
				drainDeadline = time.After(drainFor)
				continue
			}
			if strings.TrimSpace(line) == "/quit" {
				return leave()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !ctrl.Send(line, vctx) {
				fmt.Fprintln(out, "! not connected")
			}
		}
	}
}

func readLines(in io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-done:
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Debugf("input: %v", err)
	}
}

func printEntry(out io.Writer, e client.Entry) {
	fmt.Fprintf(out, "%s [%s] %s\n", e.At.Format("15:04:05"), e.Source, e.Text)
}
