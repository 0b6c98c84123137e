package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petervdpas/voyage/internal/message"
)

const maxAudioBytes = 16 << 20

// API talks to the voyage server's HTTP endpoints.
type API struct {
	base string
	http *http.Client
}

// NewAPI returns a client for the server at baseURL (http or https).
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Speak asks the server to synthesize text in the given voice and returns
// the audio/mpeg bytes. Any non-2xx answer is an error.
func (a *API) Speak(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text, "voiceId": voiceID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/api/speak", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("speak: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("speak: read audio: %w", err)
	}
	return audio, nil
}

// Roles fetches the occupancy snapshot of a session.
func (a *API) Roles(ctx context.Context, session string) (map[string]bool, error) {
	u := a.base + "/api/sessions/" + url.PathEscape(session) + "/roles"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roles: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	m, err := message.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	st, ok := m.(message.RoleStatus)
	if !ok {
		return nil, fmt.Errorf("roles: unexpected %s frame", m.Kind())
	}
	return st.Data, nil
}

// AgentInfo is the part of a crew listing the client cares about.
type AgentInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Voice string `json:"voice,omitempty"`
}

// Agents lists the crew the server has loaded.
func (a *API) Agents(ctx context.Context) ([]AgentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/api/agents", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agents: status %d", resp.StatusCode)
	}

	var out []AgentInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	return out, nil
}

// AgentVoices maps each agent label to the voice its script asks for.
func AgentVoices(list []AgentInfo) map[string]string {
	out := make(map[string]string, len(list))
	for _, a := range list {
		if a.Voice != "" {
			out[a.Label] = a.Voice
		}
	}
	return out
}
