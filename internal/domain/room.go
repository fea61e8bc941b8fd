package domain

import "time"

// RoomKind selects the protocol surface and guest policy of a room.
type RoomKind string

const (
	// RoomKindGraph is a project canvas: node positions, visibility,
	// text edits. Writes require editor role; share-link guests are
	// read-only.
	RoomKindGraph RoomKind = "graph"

	// RoomKindWorld is a game session: player positions and blocks.
	// Guests may join and write.
	RoomKindWorld RoomKind = "world"
)

// Role is the access level of a connection inside a room, resolved once
// at connect time.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleGuest  Role = "guest"
	RoleNone   Role = "none"
)

// CanEdit reports whether the role may mutate shared room state in a
// room of the given kind. Guests write in world rooms but not in graph
// rooms.
func (r Role) CanEdit(kind RoomKind) bool {
	switch r {
	case RoleOwner, RoleEditor:
		return true
	case RoleGuest:
		return kind == RoomKindWorld
	default:
		return false
	}
}

// Entity is the authoritative last-write-wins record for one shared
// object: a graph node, a world player, or a placed block. Fields not
// touched by an update keep their previous values.
type Entity struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z,omitempty"`
	Rotation float64 `json:"ry,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
	Material string  `json:"material,omitempty"`
	Content  string  `json:"content,omitempty"`
}

// PeerInfo is the public identity of a room member.
type PeerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Peer is a presence record: one entry per member, counting sockets so
// multi-tab usage does not produce duplicate join/leave events.
type Peer struct {
	PeerInfo
	Sockets  int       `json:"sockets"`
	LastSeen time.Time `json:"last_seen"`
}

// ChatMessage carries server-assigned id and timestamp so clients can
// rely on a single ordering.
type ChatMessage struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	Ts   time.Time `json:"ts"`
	User PeerInfo  `json:"user"`
}

// RoomState is the durable part of a room: the entity payload and the
// bounded chat backlog. Presence is never persisted.
type RoomState struct {
	Entities map[string]Entity `json:"entities"`
	Chat     []ChatMessage     `json:"chat"`
}
