package room

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

// Outbound event payloads. Every server frame carries a "type" field so
// clients can dispatch without peeking at the rest of the body.

type welcomeEvent struct {
	Type     string                   `json:"type"`
	Self     domain.PeerInfo          `json:"self"`
	Role     domain.Role              `json:"role"`
	Peers    []domain.Peer            `json:"peers"`
	Entities map[string]domain.Entity `json:"entities"`
	Chat     []domain.ChatMessage     `json:"chat"`
}

type presenceStateEvent struct {
	Type  string        `json:"type"`
	Peers []domain.Peer `json:"peers"`
}

type presenceJoinEvent struct {
	Type string          `json:"type"`
	Peer domain.PeerInfo `json:"peer"`
	Ts   time.Time       `json:"ts"`
}

type presenceLeaveEvent struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	Ts   time.Time `json:"ts"`
}

type stateEvent struct {
	Type     string                   `json:"type"`
	Entities map[string]domain.Entity `json:"entities"`
	Chat     []domain.ChatMessage     `json:"chat"`
}

type chatEvent struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

type cursorEvent struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type nodeMoveEvent struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	By   string    `json:"by"`
	Ts   time.Time `json:"ts"`
}

type nodeVisibilityEvent struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Hidden bool      `json:"hidden"`
	By     string    `json:"by"`
	Ts     time.Time `json:"ts"`
}

type textEditEvent struct {
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	Content string    `json:"content"`
	By      string    `json:"by"`
	Ts      time.Time `json:"ts"`
}

type playerMoveEvent struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Z    float64   `json:"z"`
	Ry   float64   `json:"ry"`
	Ts   time.Time `json:"ts"`
}

type blockPlaceEvent struct {
	Type     string    `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Z        float64   `json:"z"`
	Material string    `json:"material"`
	By       string    `json:"by"`
	Ts       time.Time `json:"ts"`
}

type blockRemoveEvent struct {
	Type string    `json:"type"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Z    float64   `json:"z"`
	By   string    `json:"by"`
	Ts   time.Time `json:"ts"`
}

// Transient co-presence events. Relayed as-is, never stored.

type popupEvent struct {
	Type string `json:"type"`
	Path string `json:"path"`
	By   string `json:"by"`
}

type popupResizeEvent struct {
	Type string  `json:"type"`
	Path string  `json:"path"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
	By   string  `json:"by"`
}

type popupLinesEvent struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Enabled bool   `json:"enabled"`
	By      string `json:"by"`
}

type colorizeEvent struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	By      string `json:"by"`
}

type selectEvent struct {
	Type string   `json:"type"`
	ID   string   `json:"id"`
	IDs  []string `json:"ids"`
}

// ErrorEvent is the error envelope delivered before a capacity close.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent builds an error envelope frame.
func NewErrorEvent(code, message string) []byte {
	return encode(ErrorEvent{Type: "error", Code: code, Message: message})
}

// PongFrame is the reply to an inbound ping event.
func PongFrame() []byte {
	return []byte(`{"type":"pong"}`)
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal outbound event", "error", err)
		return nil
	}
	return data
}
