// Package app assembles the voyage server and the terminal participant from
// a loaded config.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/petervdpas/voyage/internal/agents"
	"github.com/petervdpas/voyage/internal/config"
	"github.com/petervdpas/voyage/internal/inventory"
	"github.com/petervdpas/voyage/internal/server"
	"github.com/petervdpas/voyage/internal/session"
	"github.com/petervdpas/voyage/internal/speech"
	"github.com/petervdpas/voyage/internal/storage"
	"github.com/petervdpas/voyage/internal/telemetry"
	"github.com/petervdpas/voyage/internal/util"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("voyage/app")

type Options struct {
	BaseDir string
	CfgPath string
	Cfg     config.Config
	// Listener replaces cfg.Server.HTTPAddr when set.
	Listener net.Listener
	// Progress is told about each startup step.
	Progress func(step, total int, label string)
}

// Run starts the server and blocks until ctx is cancelled or a component
// fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	if err := telemetry.SetupLogging(cfg.Log); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logBanner(opt.BaseDir, opt.CfgPath)

	progress := opt.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}
	step, total := 0, 5
	if cfg.Agents.Enabled {
		total++
	}
	next := func(label string) {
		step++
		progress(step, total, label)
		log.Infof("[%d/%d] %s", step, total, label)
	}

	// ── Telemetry
	next("Starting telemetry")
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warnf("telemetry shutdown: %v", err)
		}
	}()

	// ── Catalog
	next("Opening catalog")
	dbPath := cfg.Storage.Path
	if dbPath != ":memory:" {
		dbPath = util.ResolvePath(opt.BaseDir, dbPath)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	seeded, err := db.SeedCatalog(inventory.StarterCatalog())
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if seeded {
		log.Infof("catalog seeded at %s", db.Path())
	}

	// ── Sessions
	next("Creating session registry")
	reg := session.NewRegistry(session.Options{
		Roles:      cfg.Session.Roles,
		OpenRoles:  cfg.Session.OpenRoles,
		SendBuffer: cfg.Session.SendBuffer,
		Announce:   cfg.Session.Announce,
	})

	deps := server.Deps{
		Config:     cfg.Server,
		DefaultKey: cfg.Session.DefaultKey,
		Registry:   reg,
		Inventory: inventory.NewGenerator(db, inventory.Options{
			DefaultVoyage: cfg.Inventory.DefaultVoyage,
			ImageBaseURL:  cfg.Inventory.ImageBaseURL,
		}),
	}

	// ── Agents
	if cfg.Agents.Enabled {
		next("Loading agents")
		engine, err := agents.NewEngine(agents.Options{
			ScriptDir:           util.ResolvePath(opt.BaseDir, cfg.Agents.ScriptDir),
			InstallDefaults:     cfg.Agents.InstallDefaults,
			Timeout:             util.Seconds(cfg.Agents.TimeoutSeconds, 5*time.Second),
			MaxMemoryMB:         cfg.Agents.MaxMemoryMB,
			RateLimitPerSession: cfg.Agents.RateLimitPerSession,
			RateLimitGlobal:     cfg.Agents.RateLimitGlobal,
			HTTPEnabled:         cfg.Agents.HTTPEnabled,
		}, db)
		if err != nil {
			return fmt.Errorf("agents: %w", err)
		}
		defer engine.Close()

		dispatcher := agents.NewDispatcher(engine, reg, cfg.Agents.QueueSize)
		defer dispatcher.Close()

		deps.Dispatcher = dispatcher
		deps.Agents = engine
	}

	// ── Speech
	next("Configuring speech")
	synth := speech.NewClient(speech.Config{
		BaseURL:         cfg.Speech.BaseURL,
		APIKey:          cfg.Speech.APIKey,
		ModelID:         cfg.Speech.ModelID,
		Stability:       cfg.Speech.Stability,
		SimilarityBoost: cfg.Speech.SimilarityBoost,
		Timeout:         util.Seconds(cfg.Speech.TimeoutSeconds, 30*time.Second),
	})
	if !synth.Configured() {
		log.Warnf("ELEVENLABS_API_KEY not set; /api/speak will answer 500 and clients fall back to text")
	}
	deps.Speech = synth
	deps.Voices = speech.NewVoiceMap(cfg.Speech.Voices, cfg.Speech.DefaultVoice)

	// ── HTTP
	next("Starting HTTP server")
	srv := server.New(deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if opt.Listener != nil {
			return srv.Serve(gctx, opt.Listener)
		}
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		reportSessions(gctx, reg, time.Minute)
		return nil
	})

	err = g.Wait()
	log.Infof("voyage server stopped")
	return err
}

// reportSessions logs the live sessions every interval until ctx ends.
func reportSessions(ctx context.Context, reg *session.Registry, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sessions := reg.List()
			if len(sessions) == 0 {
				continue
			}
			for _, s := range sessions {
				log.Debugw("session", "key", s.Key, "members", s.Members, "roles", s.Roles)
			}
			log.Infof("%d live session(s)", len(sessions))
		}
	}
}
