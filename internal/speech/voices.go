package speech

import "strings"

const (
	VoiceRachel = "21m00Tcm4TlvDq8ikWAM"
	VoiceAntoni = "ErXwobaYiN019PkySvjV"
)

// VoiceMap picks a synthesis voice from a message's source label. Lookup
// ignores case and surrounding spaces.
type VoiceMap struct {
	byLabel  map[string]string
	fallback string
}

// DefaultVoices maps the stock agents: Outfitter reads as Rachel, the
// Safety Officer and anything unknown as Antoni.
func DefaultVoices() VoiceMap {
	return NewVoiceMap(map[string]string{
		"Outfitter":      VoiceRachel,
		"Safety Officer": VoiceAntoni,
	}, VoiceAntoni)
}

func NewVoiceMap(byLabel map[string]string, fallback string) VoiceMap {
	m := make(map[string]string, len(byLabel))
	for label, voice := range byLabel {
		m[voiceKey(label)] = voice
	}
	return VoiceMap{byLabel: m, fallback: fallback}
}

// With returns a copy of v where byLabel entries replace existing ones.
// Empty voice ids are ignored.
func (v VoiceMap) With(byLabel map[string]string) VoiceMap {
	m := make(map[string]string, len(v.byLabel)+len(byLabel))
	for k, voice := range v.byLabel {
		m[k] = voice
	}
	for label, voice := range byLabel {
		if voice = strings.TrimSpace(voice); voice != "" {
			m[voiceKey(label)] = voice
		}
	}
	return VoiceMap{byLabel: m, fallback: v.fallback}
}

// For returns the voice for label, or the fallback voice.
func (v VoiceMap) For(label string) string {
	if voice, ok := v.byLabel[voiceKey(label)]; ok {
		return voice
	}
	return v.fallback
}

func voiceKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
