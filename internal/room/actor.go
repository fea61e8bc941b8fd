package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/metrics"
)

const (
	cmdBufferSize  = 256
	maxChatBacklog = 100
	chatLimitGraph = 2000
	chatLimitWorld = 300
	maxNameLength  = 32
	storeTimeout   = 2 * time.Second
	stopTimeout    = 10 * time.Second
)

// roomCmd is the command interface for the room actor.
type roomCmd interface{ isRoomCmd() }

type baseRoomCmd struct{}

func (baseRoomCmd) isRoomCmd() {}

type joinCmd struct {
	baseRoomCmd
	client *Client
	errCh  chan error
}

type leaveCmd struct {
	baseRoomCmd
	client *Client
}

type helloCmd struct {
	baseRoomCmd
	client *Client
	name   string
}

type cursorCmd struct {
	baseRoomCmd
	client *Client
	x, y   float64
}

type nodeMoveCmd struct {
	baseRoomCmd
	client *Client
	nodeID string
	x, y   float64
}

type nodeVisibilityCmd struct {
	baseRoomCmd
	client *Client
	nodeID string
	hidden bool
}

type textEditCmd struct {
	baseRoomCmd
	client  *Client
	path    string
	content string
}

type playerMoveCmd struct {
	baseRoomCmd
	client      *Client
	x, y, z, ry float64
}

type blockPlaceCmd struct {
	baseRoomCmd
	client   *Client
	x, y, z  float64
	material string
}

type blockRemoveCmd struct {
	baseRoomCmd
	client  *Client
	x, y, z float64
}

type chatCmd struct {
	baseRoomCmd
	client *Client
	text   string
}

type popupCmd struct {
	baseRoomCmd
	client *Client
	event  string // popup_open or popup_close
	path   string
}

type popupResizeCmd struct {
	baseRoomCmd
	client *Client
	path   string
	w, h   float64
}

type popupLinesCmd struct {
	baseRoomCmd
	client  *Client
	path    string // empty for the global toggle
	enabled bool
}

type colorizeCmd struct {
	baseRoomCmd
	client  *Client
	enabled bool
}

type selectCmd struct {
	baseRoomCmd
	client *Client
	ids    []string
}

type snapshotCmd struct {
	baseRoomCmd
	client *Client
}

type stopCmd struct {
	baseRoomCmd
}

// member is one presence entry. Sockets are counted so multiple tabs of
// the same user produce a single join and a single leave.
type member struct {
	peer  domain.Peer
	conns map[*Client]struct{}
}

// Room is a single-goroutine actor owning presence, the last-write-wins
// entity payload and the bounded chat backlog for one room.
type Room struct {
	id   string
	kind domain.RoomKind

	maxMembers      int
	chatLimit       int
	checkpointEvery time.Duration

	clock   clockwork.Clock
	store   domain.RoomStateStore
	onEmpty func(*Room)
	log     *slog.Logger

	cmdCh chan roomCmd
	done  chan struct{}

	// Actor-owned state. Never touched outside run.
	members map[string]*member
	clients map[*Client]struct{}
	state   domain.RoomState
	dirty   bool
	closing bool
}

func newRoom(id string, kind domain.RoomKind, maxMembers int, checkpointEvery time.Duration, clock clockwork.Clock, store domain.RoomStateStore, initial *domain.RoomState, onEmpty func(*Room)) *Room {
	chatLimit := chatLimitGraph
	if kind == domain.RoomKindWorld {
		chatLimit = chatLimitWorld
	}
	r := &Room{
		id:              id,
		kind:            kind,
		maxMembers:      maxMembers,
		chatLimit:       chatLimit,
		checkpointEvery: checkpointEvery,
		clock:           clock,
		store:           store,
		onEmpty:         onEmpty,
		log:             logging.WithRoom(id),
		cmdCh:           make(chan roomCmd, cmdBufferSize),
		done:            make(chan struct{}),
		members:         make(map[string]*member),
		clients:         make(map[*Client]struct{}),
		state:           domain.RoomState{Entities: make(map[string]domain.Entity)},
	}
	if initial != nil {
		if initial.Entities != nil {
			r.state.Entities = initial.Entities
		}
		r.state.Chat = initial.Chat
	}
	go r.run()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Kind returns the room kind.
func (r *Room) Kind() domain.RoomKind { return r.kind }

// Join registers a connection with the room. Returns ErrRoomFull when a
// new member would exceed the cap (connections of existing members are
// always admitted) and ErrRoomClosed when the room has already drained.
func (r *Room) Join(c *Client) error {
	errCh := make(chan error, 1)
	select {
	case r.cmdCh <- joinCmd{client: c, errCh: errCh}:
	case <-r.done:
		return domain.ErrRoomClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return domain.ErrRoomClosed
	}
}

// Leave removes a connection. The last connection of the last member
// destroys the room.
func (r *Room) Leave(c *Client) { r.enqueue(leaveCmd{client: c}) }

// Hello updates the display name of the sending peer.
func (r *Room) Hello(c *Client, name string) { r.enqueue(helloCmd{client: c, name: name}) }

// Cursor broadcasts a transient cursor position to the other members.
func (r *Room) Cursor(c *Client, x, y float64) { r.enqueue(cursorCmd{client: c, x: x, y: y}) }

// MoveNode applies a last-write-wins node position update.
func (r *Room) MoveNode(c *Client, nodeID string, x, y float64) {
	r.enqueue(nodeMoveCmd{client: c, nodeID: nodeID, x: x, y: y})
}

// SetNodeVisibility toggles a node's hidden flag.
func (r *Room) SetNodeVisibility(c *Client, nodeID string, hidden bool) {
	r.enqueue(nodeVisibilityCmd{client: c, nodeID: nodeID, hidden: hidden})
}

// EditText replaces the shared content of a file path.
func (r *Room) EditText(c *Client, path, content string) {
	r.enqueue(textEditCmd{client: c, path: path, content: content})
}

// MovePlayer applies the sender's player position in a world room.
func (r *Room) MovePlayer(c *Client, x, y, z, ry float64) {
	r.enqueue(playerMoveCmd{client: c, x: x, y: y, z: z, ry: ry})
}

// PlaceBlock puts a block at the given world coordinates.
func (r *Room) PlaceBlock(c *Client, x, y, z float64, material string) {
	r.enqueue(blockPlaceCmd{client: c, x: x, y: y, z: z, material: material})
}

// RemoveBlock deletes the block at the given world coordinates.
func (r *Room) RemoveBlock(c *Client, x, y, z float64) {
	r.enqueue(blockRemoveCmd{client: c, x: x, y: y, z: z})
}

// Chat appends a chat message and fans it out, sender included.
func (r *Room) Chat(c *Client, text string) { r.enqueue(chatCmd{client: c, text: text}) }

// OpenPopup announces a file popup opened by the sender.
func (r *Room) OpenPopup(c *Client, path string) {
	r.enqueue(popupCmd{client: c, event: "popup_open", path: path})
}

// ClosePopup announces a file popup closed by the sender.
func (r *Room) ClosePopup(c *Client, path string) {
	r.enqueue(popupCmd{client: c, event: "popup_close", path: path})
}

// ResizePopup relays a popup resize to the other members.
func (r *Room) ResizePopup(c *Client, path string, w, h float64) {
	r.enqueue(popupResizeCmd{client: c, path: path, w: w, h: h})
}

// TogglePopupLines relays the line-numbers toggle for one popup.
func (r *Room) TogglePopupLines(c *Client, path string, enabled bool) {
	r.enqueue(popupLinesCmd{client: c, path: path, enabled: enabled})
}

// ToggleAllPopupLines relays the global line-numbers toggle.
func (r *Room) ToggleAllPopupLines(c *Client, enabled bool) {
	r.enqueue(popupLinesCmd{client: c, enabled: enabled})
}

// ToggleColorize relays the function-coloring toggle.
func (r *Room) ToggleColorize(c *Client, enabled bool) {
	r.enqueue(colorizeCmd{client: c, enabled: enabled})
}

// SelectNodes relays the sender's current node selection.
func (r *Room) SelectNodes(c *Client, ids []string) {
	r.enqueue(selectCmd{client: c, ids: ids})
}

// RequestSnapshot sends the current room state to the requester only.
func (r *Room) RequestSnapshot(c *Client) { r.enqueue(snapshotCmd{client: c}) }

// Stop drains the room: final checkpoint, close frames to every client.
// Blocks until the actor goroutine exits or the stop timeout passes.
func (r *Room) Stop() {
	select {
	case r.cmdCh <- stopCmd{}:
	case <-r.done:
		return
	}
	timer := r.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.Chan():
		r.log.Warn("Room stop timeout exceeded")
	}
}

func (r *Room) enqueue(cmd roomCmd) {
	select {
	case r.cmdCh <- cmd:
	case <-r.done:
	}
}

func (r *Room) run() {
	interval := r.checkpointEvery
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-r.cmdCh:
			if r.dispatch(cmd) {
				close(r.done)
				return
			}
		case <-ticker.Chan():
			r.checkpoint()
		}
	}
}

// dispatch applies one command with panic isolation. Returns true when
// the actor should exit.
func (r *Room) dispatch(cmd roomCmd) (stop bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Room command panic recovered",
				"command_type", fmt.Sprintf("%T", cmd), "panic", rec)
			metrics.RoomPanicsTotal.Inc()
		}
	}()

	switch c := cmd.(type) {
	case joinCmd:
		r.handleJoin(c)
	case leaveCmd:
		r.handleLeave(c.client)
	case helloCmd:
		r.handleHello(c)
	case cursorCmd:
		r.broadcastExcept(c.client, encode(cursorEvent{Type: "cursor", ID: c.client.Peer.ID, X: c.x, Y: c.y}))
		r.countCommand("cursor", "applied")
	case nodeMoveCmd:
		r.handleNodeMove(c)
	case nodeVisibilityCmd:
		r.handleNodeVisibility(c)
	case textEditCmd:
		r.handleTextEdit(c)
	case playerMoveCmd:
		r.handlePlayerMove(c)
	case blockPlaceCmd:
		r.handleBlockPlace(c)
	case blockRemoveCmd:
		r.handleBlockRemove(c)
	case chatCmd:
		r.handleChat(c)
	case popupCmd:
		r.broadcastExcept(c.client, encode(popupEvent{Type: c.event, Path: c.path, By: c.client.Peer.ID}))
		r.countCommand(c.event, "applied")
	case popupResizeCmd:
		r.broadcastExcept(c.client, encode(popupResizeEvent{
			Type: "popup_resize", Path: c.path, W: c.w, H: c.h, By: c.client.Peer.ID,
		}))
		r.countCommand("popup_resize", "applied")
	case popupLinesCmd:
		event := popupLinesEvent{Type: "popup_lines", Path: c.path, Enabled: c.enabled, By: c.client.Peer.ID}
		if c.path == "" {
			event.Type = "popup_lines_global"
		}
		r.broadcastExcept(c.client, encode(event))
		r.countCommand(event.Type, "applied")
	case colorizeCmd:
		r.broadcastExcept(c.client, encode(colorizeEvent{
			Type: "colorize_functions", Enabled: c.enabled, By: c.client.Peer.ID,
		}))
		r.countCommand("colorize_functions", "applied")
	case selectCmd:
		r.broadcastExcept(c.client, encode(selectEvent{Type: "select", ID: c.client.Peer.ID, IDs: c.ids}))
		r.countCommand("select", "applied")
	case snapshotCmd:
		r.sendTo(c.client, encode(stateEvent{Type: "state", Entities: r.state.Entities, Chat: r.chatBacklog()}))
		r.countCommand("snapshot_request", "applied")
	case stopCmd:
		r.handleStop()
		stop = true
	default:
		r.log.Warn("Room received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
	return stop || r.closing
}

func (r *Room) handleJoin(c joinCmd) {
	client := c.client
	m, known := r.members[client.Peer.ID]
	if !known && len(r.members) >= r.maxMembers {
		r.countCommand("join", "denied")
		c.errCh <- domain.ErrRoomFull
		return
	}

	if !known {
		m = &member{
			peer: domain.Peer{
				PeerInfo: client.Peer,
				LastSeen: r.clock.Now(),
			},
			conns: make(map[*Client]struct{}),
		}
		r.members[client.Peer.ID] = m
	}
	m.conns[client] = struct{}{}
	m.peer.Sockets = len(m.conns)
	m.peer.LastSeen = r.clock.Now()
	r.clients[client] = struct{}{}
	metrics.ConnectedClients.Inc()

	r.sendTo(client, encode(welcomeEvent{
		Type:     "welcome",
		Self:     client.Peer,
		Role:     client.Role,
		Peers:    r.peerList(),
		Entities: r.state.Entities,
		Chat:     r.chatBacklog(),
	}))

	if !known {
		r.broadcastExcept(client, encode(presenceJoinEvent{Type: "presence_join", Peer: client.Peer, Ts: r.clock.Now()}))
	}

	r.countCommand("join", "applied")
	r.log.Debug("Client joined room",
		"peer_id", client.Peer.ID, "role", client.Role, "members", len(r.members))
	c.errCh <- nil
}

func (r *Room) handleLeave(client *Client) {
	if _, ok := r.clients[client]; !ok {
		return
	}
	delete(r.clients, client)
	client.Close()
	metrics.ConnectedClients.Dec()

	m, ok := r.members[client.Peer.ID]
	if ok {
		delete(m.conns, client)
		m.peer.Sockets = len(m.conns)
		if len(m.conns) == 0 {
			delete(r.members, client.Peer.ID)
			if r.kind == domain.RoomKindWorld {
				if _, has := r.state.Entities["player:"+client.Peer.ID]; has {
					delete(r.state.Entities, "player:"+client.Peer.ID)
					r.dirty = true
				}
			}
			r.broadcast(encode(presenceLeaveEvent{Type: "presence_leave", ID: client.Peer.ID, Ts: r.clock.Now()}))
		}
	}
	r.countCommand("leave", "applied")

	if len(r.members) == 0 && !r.closing {
		r.log.Info("Last member left, destroying room")
		r.closing = true
		r.checkpointFinal()
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
	}
}

func (r *Room) handleHello(c helloCmd) {
	name := strings.TrimSpace(c.name)
	if name == "" {
		r.countCommand("hello", "dropped")
		return
	}
	name = truncate(name, maxNameLength)
	c.client.Peer.Name = name
	if m, ok := r.members[c.client.Peer.ID]; ok {
		m.peer.Name = name
	}
	r.broadcast(encode(presenceStateEvent{Type: "presence_state", Peers: r.peerList()}))
	r.countCommand("hello", "applied")
}

func (r *Room) handleNodeMove(c nodeMoveCmd) {
	if !r.allowWrite(c.client, "node_move") {
		return
	}
	e := r.state.Entities[c.nodeID]
	e.X, e.Y = c.x, c.y
	r.state.Entities[c.nodeID] = e
	r.dirty = true
	r.broadcastExcept(c.client, encode(nodeMoveEvent{
		Type: "node_move", ID: c.nodeID, X: c.x, Y: c.y, By: c.client.Peer.ID, Ts: r.clock.Now(),
	}))
	r.countCommand("node_move", "applied")
}

func (r *Room) handleNodeVisibility(c nodeVisibilityCmd) {
	if !r.allowWrite(c.client, "node_visibility") {
		return
	}
	e := r.state.Entities[c.nodeID]
	e.Hidden = c.hidden
	r.state.Entities[c.nodeID] = e
	r.dirty = true
	r.broadcastExcept(c.client, encode(nodeVisibilityEvent{
		Type: "node_visibility", ID: c.nodeID, Hidden: c.hidden, By: c.client.Peer.ID, Ts: r.clock.Now(),
	}))
	r.countCommand("node_visibility", "applied")
}

func (r *Room) handleTextEdit(c textEditCmd) {
	if !r.allowWrite(c.client, "text_edit") {
		return
	}
	key := "file:" + c.path
	e := r.state.Entities[key]
	e.Content = c.content
	r.state.Entities[key] = e
	r.dirty = true
	r.broadcastExcept(c.client, encode(textEditEvent{
		Type: "text_edit", Path: c.path, Content: c.content, By: c.client.Peer.ID, Ts: r.clock.Now(),
	}))
	r.countCommand("text_edit", "applied")
}

func (r *Room) handlePlayerMove(c playerMoveCmd) {
	if !r.allowWrite(c.client, "move") {
		return
	}
	key := "player:" + c.client.Peer.ID
	e := r.state.Entities[key]
	e.X, e.Y, e.Z, e.Rotation = c.x, c.y, c.z, c.ry
	r.state.Entities[key] = e
	r.broadcastExcept(c.client, encode(playerMoveEvent{
		Type: "move", ID: c.client.Peer.ID, X: c.x, Y: c.y, Z: c.z, Ry: c.ry, Ts: r.clock.Now(),
	}))
	r.countCommand("move", "applied")
}

func (r *Room) handleBlockPlace(c blockPlaceCmd) {
	if !r.allowWrite(c.client, "block_place") {
		return
	}
	key := blockKey(c.x, c.y, c.z)
	r.state.Entities[key] = domain.Entity{X: c.x, Y: c.y, Z: c.z, Material: c.material}
	r.dirty = true
	r.broadcastExcept(c.client, encode(blockPlaceEvent{
		Type: "block_place", X: c.x, Y: c.y, Z: c.z, Material: c.material, By: c.client.Peer.ID, Ts: r.clock.Now(),
	}))
	r.countCommand("block_place", "applied")
}

func (r *Room) handleBlockRemove(c blockRemoveCmd) {
	if !r.allowWrite(c.client, "block_remove") {
		return
	}
	delete(r.state.Entities, blockKey(c.x, c.y, c.z))
	r.dirty = true
	r.broadcastExcept(c.client, encode(blockRemoveEvent{
		Type: "block_remove", X: c.x, Y: c.y, Z: c.z, By: c.client.Peer.ID, Ts: r.clock.Now(),
	}))
	r.countCommand("block_remove", "applied")
}

func (r *Room) handleChat(c chatCmd) {
	if c.client.Role == domain.RoleGuest && r.kind == domain.RoomKindGraph {
		r.countCommand("chat", "denied")
		return
	}
	text := strings.TrimSpace(c.text)
	if text == "" {
		r.countCommand("chat", "dropped")
		return
	}
	text = truncate(text, r.chatLimit)
	msg := domain.ChatMessage{
		ID:   uuid.NewString(),
		Text: text,
		Ts:   r.clock.Now(),
		User: c.client.Peer,
	}
	r.state.Chat = append(r.state.Chat, msg)
	if len(r.state.Chat) > maxChatBacklog {
		r.state.Chat = r.state.Chat[len(r.state.Chat)-maxChatBacklog:]
	}
	r.dirty = true
	r.broadcast(encode(chatEvent{Type: "chat", Message: msg}))
	r.countCommand("chat", "applied")
}

func (r *Room) handleStop() {
	r.log.Info("Room shutting down", "members", len(r.members), "clients", len(r.clients))
	r.checkpointFinal()
	for client := range r.clients {
		client.CloseWithCode(1001, "server shutting down")
		metrics.ConnectedClients.Dec()
	}
	r.clients = make(map[*Client]struct{})
	r.members = make(map[string]*member)
	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// allowWrite gates mutations on the connect-time role. Denied writes are
// dropped without feedback.
func (r *Room) allowWrite(client *Client, cmdType string) bool {
	if client.Role.CanEdit(r.kind) {
		return true
	}
	r.countCommand(cmdType, "denied")
	return false
}

func (r *Room) broadcast(data []byte) {
	r.fanOut(data, nil)
}

func (r *Room) broadcastExcept(skip *Client, data []byte) {
	r.fanOut(data, skip)
}

func (r *Room) fanOut(data []byte, skip *Client) {
	if data == nil {
		return
	}
	var slow []*Client
	for client := range r.clients {
		if client == skip {
			continue
		}
		if !client.Send(data) {
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		r.log.Warn("Evicting slow client", "peer_id", client.Peer.ID)
		metrics.SlowClientsEvicted.Inc()
		r.handleLeave(client)
	}
}

func (r *Room) sendTo(client *Client, data []byte) {
	if !client.Send(data) {
		r.log.Warn("Evicting slow client", "peer_id", client.Peer.ID)
		metrics.SlowClientsEvicted.Inc()
		r.handleLeave(client)
	}
}

func (r *Room) checkpoint() {
	if r.store == nil || !r.dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.Save(ctx, r.id, r.state); err != nil {
		r.log.Error("Room checkpoint failed", "error", err)
		return
	}
	r.dirty = false
}

// checkpointFinal runs at room destruction. A room that emptied out
// completely clears its checkpoint key instead of persisting a blank.
func (r *Room) checkpointFinal() {
	if r.store == nil {
		return
	}
	if len(r.state.Entities) == 0 && len(r.state.Chat) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Delete(ctx, r.id); err != nil {
			r.log.Error("Failed to clear room checkpoint", "error", err)
		}
		return
	}
	r.dirty = true
	r.checkpoint()
}

func (r *Room) peerList() []domain.Peer {
	peers := make([]domain.Peer, 0, len(r.members))
	for _, m := range r.members {
		peers = append(peers, m.peer)
	}
	return peers
}

func (r *Room) chatBacklog() []domain.ChatMessage {
	if r.state.Chat == nil {
		return []domain.ChatMessage{}
	}
	return r.state.Chat
}

func (r *Room) countCommand(cmdType, outcome string) {
	metrics.RoomCommandsTotal.WithLabelValues(cmdType, outcome).Inc()
}

func blockKey(x, y, z float64) string {
	return fmt.Sprintf("block:%g:%g:%g", x, y, z)
}

// truncate cuts s at the byte limit without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
