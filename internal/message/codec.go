package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrEmptyContent = errors.New("message has no content")
	ErrMissingData  = errors.New("role_status has no data")
)

// Encode renders m in its wire shape.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Content:
		if !v.Type.IsContent() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, v.Type)
		}
		return json.Marshal(v)
	case RoleStatus:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// Decode parses a server frame. Frames that carry both content and status
// data, or neither, are rejected.
func Decode(data []byte) (Message, error) {
	var raw struct {
		Type    Type            `json:"type"`
		Role    string          `json:"role"`
		Content *string         `json:"content"`
		Data    map[string]bool `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case raw.Type == TypeRoleStatus:
		if raw.Data == nil {
			return nil, ErrMissingData
		}
		if raw.Content != nil {
			return nil, fmt.Errorf("role_status must not carry content")
		}
		return RoleStatus{Data: raw.Data}, nil
	case raw.Type.IsContent():
		if raw.Content == nil || *raw.Content == "" {
			return nil, ErrEmptyContent
		}
		return Content{Type: raw.Type, Role: raw.Role, Content: *raw.Content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
}

// DecodeOutbound parses a client frame. Surrounding whitespace is trimmed
// from the content and an empty result is an error.
func DecodeOutbound(data []byte) (Outbound, error) {
	var out Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		return Outbound{}, fmt.Errorf("decode outbound: %w", err)
	}
	out.Content = strings.TrimSpace(out.Content)
	if out.Content == "" {
		return Outbound{}, ErrEmptyContent
	}
	return out, nil
}
