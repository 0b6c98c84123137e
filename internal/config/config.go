package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/voyage/internal/util"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    Server    `json:"server"`
	Session   Session   `json:"session"`
	Agents    Agents    `json:"agents"`
	Speech    Speech    `json:"speech"`
	Inventory Inventory `json:"inventory"`
	Storage   Storage   `json:"storage"`
	Log       Log       `json:"log"`
	Telemetry Telemetry `json:"telemetry"`
	Client    Client    `json:"client"`
}

type Server struct {
	HTTPAddr string `json:"http_addr" env:"VOYAGE_HTTP_ADDR"`

	// Largest inbound frame accepted from a client, in bytes.
	ReadLimitBytes int64 `json:"read_limit_bytes"`

	PingSeconds         int `json:"ping_seconds"`
	WriteTimeoutSeconds int `json:"write_timeout_seconds"`
	ShutdownSeconds     int `json:"shutdown_seconds"`

	// Frames per second a single connection may send before further frames
	// in that second are dropped. 0 disables the budget.
	MaxFramesPerSecond int `json:"max_frames_per_second"`
}

type Session struct {
	// Session joined by the two-segment /ws/{client}/{role} route.
	DefaultKey string   `json:"default_key" env:"VOYAGE_DEFAULT_SESSION"`
	Roles      []string `json:"roles"`
	OpenRoles  []string `json:"open_roles"`
	SendBuffer int      `json:"send_buffer"`
	Announce   bool     `json:"announce"`
}

type Agents struct {
	Enabled             bool   `json:"enabled"`
	ScriptDir           string `json:"script_dir" env:"VOYAGE_AGENTS_DIR"`
	InstallDefaults     bool   `json:"install_defaults"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	MaxMemoryMB         int    `json:"max_memory_mb"`
	RateLimitPerSession int    `json:"rate_limit_per_session"`
	RateLimitGlobal     int    `json:"rate_limit_global"`
	HTTPEnabled         bool   `json:"http_enabled"`
	QueueSize           int    `json:"queue_size"`
}

type Speech struct {
	BaseURL         string            `json:"base_url" env:"VOYAGE_SPEECH_BASE_URL"`
	APIKey          string            `json:"api_key" env:"ELEVENLABS_API_KEY"`
	ModelID         string            `json:"model_id"`
	Stability       float64           `json:"stability"`
	SimilarityBoost float64           `json:"similarity_boost"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	Voices          map[string]string `json:"voices"` // agent label -> voice id
	DefaultVoice    string            `json:"default_voice"`
}

type Inventory struct {
	DefaultVoyage string `json:"default_voyage"`
	ImageBaseURL  string `json:"image_base_url"`
}

type Storage struct {
	Path string `json:"path" env:"VOYAGE_DB_PATH"`
}

type Log struct {
	Level      string            `json:"level" env:"VOYAGE_LOG_LEVEL"`
	Subsystems map[string]string `json:"subsystems"`
}

type Telemetry struct {
	OTLPEndpoint string `json:"otlp_endpoint" env:"VOYAGE_OTEL_ENDPOINT"`
	ServiceName  string `json:"service_name"`
}

type Client struct {
	ServerURL string `json:"server_url" env:"VOYAGE_SERVER_URL"`
	// "paced" waits out the clip length, "command" runs PlayerCommand,
	// "none" skips playback.
	Player        string   `json:"player"`
	PlayerCommand []string `json:"player_command"`
}

func Default() Config {
	return Config{
		Server: Server{
			HTTPAddr:            "127.0.0.1:8000",
			ReadLimitBytes:      16 * 1024,
			PingSeconds:         30,
			WriteTimeoutSeconds: 10,
			ShutdownSeconds:     5,
			MaxFramesPerSecond:  10,
		},
		Session: Session{
			DefaultKey: "space",
			Roles:      []string{"captain", "specialist"},
			OpenRoles:  []string{"observer"},
			SendBuffer: 64,
			Announce:   true,
		},
		Agents: Agents{
			Enabled:             true,
			ScriptDir:           "agents",
			InstallDefaults:     true,
			TimeoutSeconds:      5,
			MaxMemoryMB:         10,
			RateLimitPerSession: 30,
			RateLimitGlobal:     240,
			HTTPEnabled:         false,
			QueueSize:           16,
		},
		Speech: Speech{
			BaseURL:         "https://api.elevenlabs.io",
			ModelID:         "eleven_monolingual_v1",
			Stability:       0.5,
			SimilarityBoost: 0.5,
			TimeoutSeconds:  30,
			Voices: map[string]string{
				"Outfitter":      "21m00Tcm4TlvDq8ikWAM",
				"Safety Officer": "ErXwobaYiN019PkySvjV",
			},
			DefaultVoice: "ErXwobaYiN019PkySvjV",
		},
		Inventory: Inventory{
			DefaultVoyage: "space",
			ImageBaseURL:  "https://picsum.photos/200/200",
		},
		Storage: Storage{
			Path: "data/voyage.db",
		},
		Log: Log{
			Level: "info",
		},
		Telemetry: Telemetry{
			ServiceName: "voyage",
		},
		Client: Client{
			ServerURL:     "http://127.0.0.1:8000",
			Player:        "paced",
			PlayerCommand: []string{"mpg123", "-q"},
		},
	}
}

func (c *Config) Validate() error {
	// Server
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Server.ReadLimitBytes < 256 {
		return errors.New("server.read_limit_bytes must be >= 256")
	}
	if c.Server.PingSeconds <= 0 {
		return errors.New("server.ping_seconds must be > 0")
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		return errors.New("server.write_timeout_seconds must be > 0")
	}
	if c.Server.MaxFramesPerSecond < 0 {
		return errors.New("server.max_frames_per_second must be >= 0")
	}

	// Session
	if strings.TrimSpace(c.Session.DefaultKey) == "" {
		return errors.New("session.default_key is required")
	}
	if len(c.Session.Roles) == 0 {
		return errors.New("session.roles must name at least one role")
	}
	seen := map[string]bool{}
	for _, r := range append(append([]string{}, c.Session.Roles...), c.Session.OpenRoles...) {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			return errors.New("session roles must not be empty")
		}
		if seen[r] {
			return fmt.Errorf("session role %q listed twice", r)
		}
		seen[r] = true
	}
	if c.Session.SendBuffer < 1 {
		return errors.New("session.send_buffer must be > 0")
	}

	// Agents
	if c.Agents.Enabled {
		if strings.TrimSpace(c.Agents.ScriptDir) == "" {
			return errors.New("agents.script_dir is required when agents are enabled")
		}
		if c.Agents.TimeoutSeconds < 1 || c.Agents.TimeoutSeconds > 60 {
			return errors.New("agents.timeout_seconds must be 1..60")
		}
		if c.Agents.RateLimitPerSession <= 0 {
			return errors.New("agents.rate_limit_per_session must be > 0")
		}
		if c.Agents.RateLimitGlobal <= 0 {
			return errors.New("agents.rate_limit_global must be > 0")
		}
		if c.Agents.MaxMemoryMB < 0 || c.Agents.MaxMemoryMB > 1024 {
			return errors.New("agents.max_memory_mb must be 0..1024")
		}
		if c.Agents.QueueSize < 1 {
			return errors.New("agents.queue_size must be > 0")
		}
	}

	// Speech
	if err := validateHTTPURL(c.Speech.BaseURL); err != nil {
		return fmt.Errorf("speech.base_url: %w", err)
	}
	if strings.TrimSpace(c.Speech.DefaultVoice) == "" {
		return errors.New("speech.default_voice is required")
	}
	if c.Speech.TimeoutSeconds <= 0 {
		return errors.New("speech.timeout_seconds must be > 0")
	}

	// Inventory
	if strings.TrimSpace(c.Inventory.DefaultVoyage) == "" {
		return errors.New("inventory.default_voyage is required")
	}

	// Storage
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	// Client
	switch c.Client.Player {
	case "paced", "none":
	case "command":
		if len(c.Client.PlayerCommand) == 0 {
			return errors.New("client.player_command is required when client.player is command")
		}
	default:
		return errors.New("client.player must be paced, command or none")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyEnv overlays variables from the environment. Unset variables leave
// the loaded values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without env overlay or validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Save validates and writes cfg. The API key is never written out; it
// belongs in ELEVENLABS_API_KEY.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Speech.APIKey = ""
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
