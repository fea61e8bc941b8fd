package server

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/metrics"
	"github.com/jerome244/code-graph-explorer/internal/room"
)

// Close codes. 4xxx mirrors HTTP semantics: auth and existence failures
// close with nothing but the close frame, capacity failures deliver an
// error envelope first so the client can tell a full room from a crash.
const (
	closeRoomFull     = 4001
	closeTooManyTabs  = 4002
	closeUnauthorized = 4401
	closeForbidden    = 4403
	closeNotFound     = 4404

	controlWriteWait = 5 * time.Second
)

// inboundMessage is the union of all client frames. Coordinates are
// pointers so a missing field is distinguishable from zero.
type inboundMessage struct {
	Type     string   `json:"type"`
	Name     string   `json:"name,omitempty"`
	ID       string   `json:"id,omitempty"`
	Path     string   `json:"path,omitempty"`
	Content  string   `json:"content,omitempty"`
	Material string   `json:"material,omitempty"`
	Text     string   `json:"text,omitempty"`
	Hidden   bool     `json:"hidden,omitempty"`
	Enabled  bool     `json:"enabled,omitempty"`
	IDs      []string `json:"ids,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Z        *float64 `json:"z,omitempty"`
	Ry       *float64 `json:"ry,omitempty"`
	W        *float64 `json:"w,omitempty"`
	H        *float64 `json:"h,omitempty"`
}

// handleProjectSocket serves graph rooms for authenticated members:
// GET /ws/projects/:id?ticket=<jwt>
func (s *Server) handleProjectSocket(c echo.Context) error {
	roomParam := c.Param("id")

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	projectID, err := strconv.ParseInt(roomParam, 10, 64)
	if err != nil {
		s.reject(conn, closeNotFound, "not_found")
		return nil
	}

	userID, err := s.verifier.Verify(c.QueryParam("ticket"), roomParam)
	if err != nil {
		logging.WithRoom(roomParam).Debug("Ticket rejected", "error", err)
		s.reject(conn, closeUnauthorized, "unauthorized")
		return nil
	}

	ctx := c.Request().Context()
	role, err := s.guard.ResolveRole(ctx, userID, projectID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		s.reject(conn, closeNotFound, "not_found")
		return nil
	}
	if err != nil {
		logging.WithError(err).Error("Role resolution failed", "project_id", projectID)
		s.reject(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}
	if role == domain.RoleNone {
		s.reject(conn, closeForbidden, "forbidden")
		return nil
	}

	peer := s.peerForUser(ctx, userID)
	s.serveRoom(ctx, conn, "project:"+roomParam, domain.RoomKindGraph, peer, role)
	return nil
}

// handleSharedSocket serves graph rooms for share-link guests, read
// only: GET /ws/shared/:token
func (s *Server) handleSharedSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	ctx := c.Request().Context()
	projectID, found, err := s.repo.FindByShareToken(ctx, c.Param("token"))
	if err != nil {
		logging.WithError(err).Error("Share token lookup failed")
		s.reject(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}
	if !found {
		s.reject(conn, closeNotFound, "not_found")
		return nil
	}

	roomID := "project:" + strconv.FormatInt(projectID, 10)
	s.serveRoom(ctx, conn, roomID, domain.RoomKindGraph, guestPeer(), domain.RoleGuest)
	return nil
}

// handleGameSocket serves world rooms. A token makes the member
// authenticated; without one the client joins as a writable guest:
// GET /ws/game/:id?token=<jwt>
func (s *Server) handleGameSocket(c echo.Context) error {
	worldID := c.Param("id")

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	ctx := c.Request().Context()
	peer := guestPeer()
	role := domain.RoleGuest

	if token := c.QueryParam("token"); token != "" {
		userID, err := s.verifier.Verify(token, worldID)
		if err != nil {
			logging.WithRoom(worldID).Debug("Ticket rejected", "error", err)
			s.reject(conn, closeUnauthorized, "unauthorized")
			return nil
		}
		peer = s.peerForUser(ctx, userID)
		role = domain.RoleEditor
	}

	s.serveRoom(ctx, conn, "world:"+worldID, domain.RoomKindWorld, peer, role)
	return nil
}

// serveRoom runs the rest of the connection lifecycle: per-user socket
// cap, room join, read loop, leave.
func (s *Server) serveRoom(ctx context.Context, conn *websocket.Conn, roomID string, kind domain.RoomKind, peer domain.PeerInfo, role domain.Role) {
	client := room.NewClient(conn, s.clock, peer, role)

	if !s.userConns.Acquire(peer.ID) {
		metrics.ConnectionsRejectedTotal.WithLabelValues("too_many_tabs").Inc()
		client.Send(room.NewErrorEvent("too_many_tabs", "too many concurrent connections"))
		client.CloseWithCode(closeTooManyTabs, "too_many_tabs")
		return
	}
	defer s.userConns.Release(peer.ID)

	r, err := s.registry.Join(ctx, roomID, kind, client)
	if errors.Is(err, domain.ErrRoomFull) {
		metrics.ConnectionsRejectedTotal.WithLabelValues("room_full").Inc()
		client.Send(room.NewErrorEvent("room_full", "room is at capacity"))
		client.CloseWithCode(closeRoomFull, "room_full")
		return
	}
	if err != nil {
		client.CloseWithCode(websocket.CloseTryAgainLater, "try again later")
		return
	}

	logging.WithPeer(peer.ID).Debug("WebSocket session started", "room_id", roomID, "role", role)
	s.readLoop(conn, r, client, kind)
	r.Leave(client)
}

func (s *Server) readLoop(conn *websocket.Conn, r *room.Room, client *room.Client, kind domain.RoomKind) {
	limiter := newMessageLimiter()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		client.MarkActive()

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			metrics.MalformedDropsTotal.Inc()
			continue
		}

		if msg.Type == "ping" {
			client.Send(room.PongFrame())
			continue
		}

		if !limiter.allow(msg.Type) {
			metrics.RateLimitedDropsTotal.Inc()
			continue
		}

		if kind == domain.RoomKindGraph {
			s.dispatchGraph(r, client, msg)
		} else {
			s.dispatchWorld(r, client, msg)
		}
	}
}

func (s *Server) dispatchGraph(r *room.Room, client *room.Client, msg inboundMessage) {
	switch msg.Type {
	case "hello":
		r.Hello(client, msg.Name)
	case "cursor":
		if finite(msg.X, msg.Y) {
			r.Cursor(client, *msg.X, *msg.Y)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "node_move":
		if msg.ID != "" && finite(msg.X, msg.Y) {
			r.MoveNode(client, msg.ID, *msg.X, *msg.Y)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "node_visibility":
		if msg.ID != "" {
			r.SetNodeVisibility(client, msg.ID, msg.Hidden)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "text_edit":
		if msg.Path != "" {
			r.EditText(client, msg.Path, msg.Content)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "popup_open":
		if msg.Path != "" {
			r.OpenPopup(client, msg.Path)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "popup_close":
		if msg.Path != "" {
			r.ClosePopup(client, msg.Path)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "popup_resize":
		if msg.Path != "" && finite(msg.W, msg.H) {
			r.ResizePopup(client, msg.Path, *msg.W, *msg.H)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "popup_lines":
		if msg.Path != "" {
			r.TogglePopupLines(client, msg.Path, msg.Enabled)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "popup_lines_global":
		r.ToggleAllPopupLines(client, msg.Enabled)
	case "colorize_functions":
		r.ToggleColorize(client, msg.Enabled)
	case "select":
		r.SelectNodes(client, msg.IDs)
	case "chat":
		r.Chat(client, msg.Text)
	case "snapshot_request":
		r.RequestSnapshot(client)
	default:
		metrics.MalformedDropsTotal.Inc()
	}
}

func (s *Server) dispatchWorld(r *room.Room, client *room.Client, msg inboundMessage) {
	switch msg.Type {
	case "hello":
		r.Hello(client, msg.Name)
	case "move":
		ry := 0.0
		if msg.Ry != nil {
			ry = *msg.Ry
		}
		if finite(msg.X, msg.Y, msg.Z) && !math.IsNaN(ry) && !math.IsInf(ry, 0) {
			r.MovePlayer(client, *msg.X, *msg.Y, *msg.Z, ry)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "block_place":
		if msg.Material != "" && finite(msg.X, msg.Y, msg.Z) {
			r.PlaceBlock(client, *msg.X, *msg.Y, *msg.Z, msg.Material)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "block_remove":
		if finite(msg.X, msg.Y, msg.Z) {
			r.RemoveBlock(client, *msg.X, *msg.Y, *msg.Z)
		} else {
			metrics.MalformedDropsTotal.Inc()
		}
	case "chat":
		r.Chat(client, msg.Text)
	case "snapshot_request":
		r.RequestSnapshot(client)
	default:
		metrics.MalformedDropsTotal.Inc()
	}
}

// reject closes a connection that never joined a room. Only the close
// frame goes out, no data frames.
func (s *Server) reject(conn *websocket.Conn, code int, reason string) {
	metrics.ConnectionsRejectedTotal.WithLabelValues(reason).Inc()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, s.clock.Now().Add(controlWriteWait))
	_ = conn.Close()
}

func (s *Server) peerForUser(ctx context.Context, userID int64) domain.PeerInfo {
	name, err := s.repo.DisplayName(ctx, userID)
	if err != nil {
		logging.WithError(err).Warn("Display name lookup failed", "user_id", userID)
		name = "user:" + strconv.FormatInt(userID, 10)
	}
	return domain.PeerInfo{
		ID:    "u" + strconv.FormatInt(userID, 10),
		Name:  name,
		Color: domain.ColorForUser(userID),
	}
}

func guestPeer() domain.PeerInfo {
	u := uuid.New()
	short := hex.EncodeToString(u[:4])
	seed := int64(binary.BigEndian.Uint32(u[:4]))
	return domain.PeerInfo{
		ID:    "guest-" + short,
		Name:  "guest-" + short,
		Color: domain.ColorForUser(seed),
	}
}

func finite(vals ...*float64) bool {
	for _, v := range vals {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return false
		}
	}
	return true
}
