// Package message defines the voyage wire protocol. A frame sent by the
// server is either a content message (system, human, ai) or a role status
// snapshot; the two never share a shape.
package message

import (
	"encoding/json"
	"sort"
)

// Type is the discriminator carried in every server frame.
type Type string

const (
	TypeSystem     Type = "system"
	TypeHuman      Type = "human"
	TypeAI         Type = "ai"
	TypeRoleStatus Type = "role_status"
)

// IsContent reports whether t tags a message that carries visible text.
func (t Type) IsContent() bool {
	return t == TypeSystem || t == TypeHuman || t == TypeAI
}

// Message is a server frame. Implemented by Content and RoleStatus only.
type Message interface {
	Kind() Type
	isMessage()
}

// Content is a chat line: a human message, an agent reply or a system notice.
type Content struct {
	Type    Type   // TypeSystem, TypeHuman or TypeAI
	Role    string // source label, empty for pure system messages
	Content string
}

func (Content) isMessage() {}
func (c Content) Kind() Type { return c.Type }

// System returns a system notice without a source label.
func System(text string) Content {
	return Content{Type: TypeSystem, Content: text}
}

// Human returns a message written by the participant holding role.
func Human(role, text string) Content {
	return Content{Type: TypeHuman, Role: role, Content: text}
}

// AI returns a reply produced by the named agent.
func AI(agent, text string) Content {
	return Content{Type: TypeAI, Role: agent, Content: text}
}

// RoleStatus is an occupancy snapshot: role name to occupied.
type RoleStatus struct {
	Data map[string]bool
}

func (RoleStatus) isMessage() {}
func (RoleStatus) Kind() Type { return TypeRoleStatus }

// Occupied reports whether role is held in the snapshot.
func (s RoleStatus) Occupied(role string) bool {
	return s.Data[role]
}

// Roles returns the snapshot's role names in sorted order.
func (s RoleStatus) Roles() []string {
	out := make([]string, 0, len(s.Data))
	for r := range s.Data {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Context is optional session flavour attached to an outbound message. It
// is consumed by the agents, never by the router.
type Context struct {
	VoyageType string `json:"voyageType"`
	Inventory  string `json:"inventory"`
}

// Outbound is the frame a client sends to the server.
type Outbound struct {
	Content string   `json:"content"`
	Role    string   `json:"role,omitempty"`
	Context *Context `json:"context,omitempty"`
}

type contentWire struct {
	Type    Type   `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type statusWire struct {
	Type Type            `json:"type"`
	Data map[string]bool `json:"data"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(contentWire{Type: c.Type, Role: c.Role, Content: c.Content})
}

func (s RoleStatus) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = map[string]bool{}
	}
	return json.Marshal(statusWire{Type: TypeRoleStatus, Data: data})
}
