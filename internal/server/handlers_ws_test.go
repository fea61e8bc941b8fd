package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerome244/code-graph-explorer/internal/access"
	"github.com/jerome244/code-graph-explorer/internal/config"
	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/room"
)

// stubVerifier maps raw tickets to user ids, rejecting everything else.
type stubVerifier struct {
	tickets map[string]int64
}

func (v *stubVerifier) Verify(raw, _ string) (int64, error) {
	if uid, ok := v.tickets[raw]; ok {
		return uid, nil
	}
	return 0, domain.ErrTicketInvalid
}

// stubRepo is an in-memory ProjectRepository.
type stubRepo struct {
	owners      map[int64]int64          // projectID -> owner user id
	shares      map[int64]map[int64]bool // projectID -> userID -> canEdit
	shareTokens map[string]int64
	names       map[int64]string
}

func (r *stubRepo) ResolveRole(_ context.Context, userID, projectID int64) (domain.Role, error) {
	owner, ok := r.owners[projectID]
	if !ok {
		return domain.RoleNone, domain.ErrRoomNotFound
	}
	if owner == userID {
		return domain.RoleOwner, nil
	}
	if canEdit, ok := r.shares[projectID][userID]; ok {
		if canEdit {
			return domain.RoleEditor, nil
		}
		return domain.RoleViewer, nil
	}
	return domain.RoleNone, nil
}

func (r *stubRepo) FindByShareToken(_ context.Context, token string) (int64, bool, error) {
	id, ok := r.shareTokens[token]
	return id, ok, nil
}

func (r *stubRepo) DisplayName(_ context.Context, userID int64) (string, error) {
	if name, ok := r.names[userID]; ok {
		return name, nil
	}
	return fmt.Sprintf("user:%d", userID), nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:         "test",
		Port:           "0",
		TicketMaxAge:   time.Minute,
		RoomMaxMembers: 8,
		MaxConnPerUser: 3,
		LogLevel:       "error",
		LogFormat:      "text",
	}
}

func defaultRepo() *stubRepo {
	return &stubRepo{
		owners:      map[int64]int64{1: 10},
		shares:      map[int64]map[int64]bool{1: {11: true, 12: false}},
		shareTokens: map[string]int64{"sharetok": 1},
		names:       map[int64]string{10: "alice", 11: "bob", 12: "carol"},
	}
}

func defaultVerifier() *stubVerifier {
	return &stubVerifier{tickets: map[string]int64{
		"t-alice":   10,
		"t-bob":     11,
		"t-carol":   12,
		"t-mallory": 99,
	}}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	logging.InitLogger("error", "text")

	repo := defaultRepo()
	registry := room.NewRegistry(clockwork.NewRealClock(), nil, cfg.RoomMaxMembers, 0)
	t.Cleanup(registry.Shutdown)

	srv := NewServer(cfg, clockwork.NewRealClock(), defaultVerifier(), access.NewGuard(repo), repo, registry, nil, nil)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, json.Unmarshal(msg, &event))
	return event
}

func readFrameUntil(t *testing.T, conn *ws.Conn, want string) map[string]any {
	t.Helper()
	for range 300 {
		event := readFrame(t, conn)
		if event["type"] == want {
			return event
		}
	}
	t.Fatalf("never received event of type %q", want)
	return nil
}

func sendFrame(t *testing.T, conn *ws.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// expectClose asserts the next read is a close frame with the given
// code, with no data frames before it.
func expectClose(t *testing.T, conn *ws.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func TestProjectSocket_InvalidTicketCloses4401(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/projects/1?ticket=bogus")
	expectClose(t, conn, closeUnauthorized)
}

func TestProjectSocket_MissingTicketCloses4401(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/projects/1")
	expectClose(t, conn, closeUnauthorized)
}

func TestProjectSocket_UnknownProjectCloses4404(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/projects/999?ticket=t-alice")
	expectClose(t, conn, closeNotFound)
}

func TestProjectSocket_NoAccessCloses4403(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/projects/1?ticket=t-mallory")
	expectClose(t, conn, closeForbidden)
}

func TestProjectSocket_WelcomeAndFanOut(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	welcome := readFrame(t, alice)
	require.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "owner", welcome["role"])
	self := welcome["self"].(map[string]any)
	assert.Equal(t, "u10", self["id"])
	assert.Equal(t, "alice", self["name"])
	assert.True(t, strings.HasPrefix(self["color"].(string), "rgb("))

	bob := dialWS(t, ts, "/ws/projects/1?ticket=t-bob")
	bobWelcome := readFrame(t, bob)
	require.Equal(t, "welcome", bobWelcome["type"])
	assert.Equal(t, "editor", bobWelcome["role"])

	sendFrame(t, bob, map[string]any{"type": "node_move", "id": "n1", "x": 4.0, "y": 2.0})

	event := readFrameUntil(t, alice, "node_move")
	assert.Equal(t, "n1", event["id"])
	assert.Equal(t, 4.0, event["x"])
	assert.Equal(t, "u11", event["by"])
}

func TestProjectSocket_PopupAndSelectionRelayed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	require.Equal(t, "welcome", readFrame(t, alice)["type"])
	bob := dialWS(t, ts, "/ws/projects/1?ticket=t-bob")
	require.Equal(t, "welcome", readFrame(t, bob)["type"])

	sendFrame(t, bob, map[string]any{"type": "popup_open", "path": "src/main.go"})
	opened := readFrameUntil(t, alice, "popup_open")
	assert.Equal(t, "src/main.go", opened["path"])
	assert.Equal(t, "u11", opened["by"])

	sendFrame(t, bob, map[string]any{"type": "popup_resize", "path": "src/main.go", "w": 640.0, "h": 480.0})
	resized := readFrameUntil(t, alice, "popup_resize")
	assert.Equal(t, 640.0, resized["w"])

	sendFrame(t, bob, map[string]any{"type": "select", "ids": []string{"n1", "n2"}})
	sel := readFrameUntil(t, alice, "select")
	assert.Equal(t, "u11", sel["id"])
	assert.Equal(t, []any{"n1", "n2"}, sel["ids"])

	sendFrame(t, bob, map[string]any{"type": "colorize_functions", "enabled": true})
	col := readFrameUntil(t, alice, "colorize_functions")
	assert.Equal(t, true, col["enabled"])

	// Pathless popup frames are malformed and never relayed.
	sendFrame(t, bob, map[string]any{"type": "popup_open"})
	sendFrame(t, bob, map[string]any{"type": "popup_close", "path": "src/main.go"})
	closed := readFrameUntil(t, alice, "popup_close")
	assert.Equal(t, "src/main.go", closed["path"])
}

func TestProjectSocket_ViewerWritesIgnored(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	carol := dialWS(t, ts, "/ws/projects/1?ticket=t-carol")
	welcome := readFrame(t, carol)
	require.Equal(t, "viewer", welcome["role"])

	sendFrame(t, carol, map[string]any{"type": "node_move", "id": "n1", "x": 1.0, "y": 1.0})
	sendFrame(t, carol, map[string]any{"type": "snapshot_request"})

	state := readFrameUntil(t, carol, "state")
	assert.Empty(t, state["entities"])
}

func TestProjectSocket_MalformedFramesDroppedSilently(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	readFrame(t, alice) // welcome

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("not json")))
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(`{"type":"warp_drive"}`)))
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(`{"type":"node_move","id":"n1","x":"NaN"}`)))

	// Connection survives and still answers.
	sendFrame(t, alice, map[string]any{"type": "ping"})
	pong := readFrameUntil(t, alice, "pong")
	assert.Equal(t, "pong", pong["type"])
}

func TestSharedSocket_GuestIsReadOnly(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	guest := dialWS(t, ts, "/ws/shared/sharetok")
	welcome := readFrame(t, guest)
	require.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "guest", welcome["role"])
	self := welcome["self"].(map[string]any)
	assert.True(t, strings.HasPrefix(self["id"].(string), "guest-"))

	sendFrame(t, guest, map[string]any{"type": "node_move", "id": "n1", "x": 1.0, "y": 1.0})
	sendFrame(t, guest, map[string]any{"type": "snapshot_request"})

	state := readFrameUntil(t, guest, "state")
	assert.Empty(t, state["entities"])
}

func TestSharedSocket_GuestSharesRoomWithMembers(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	guest := dialWS(t, ts, "/ws/shared/sharetok")
	readFrame(t, guest) // welcome

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	readFrame(t, alice) // welcome

	sendFrame(t, alice, map[string]any{"type": "node_move", "id": "n1", "x": 3.0, "y": 9.0})

	event := readFrameUntil(t, guest, "node_move")
	assert.Equal(t, 3.0, event["x"])
}

func TestSharedSocket_UnknownTokenCloses4404(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/shared/nope")
	expectClose(t, conn, closeNotFound)
}

func TestGameSocket_AnonymousGuestCanWrite(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	g1 := dialWS(t, ts, "/ws/game/w1")
	w1 := readFrame(t, g1)
	require.Equal(t, "welcome", w1["type"])
	assert.Equal(t, "guest", w1["role"])

	g2 := dialWS(t, ts, "/ws/game/w1")
	readFrame(t, g2) // welcome

	sendFrame(t, g1, map[string]any{"type": "move", "x": 1.0, "y": 2.0, "z": 3.0, "ry": 0.5})
	move := readFrameUntil(t, g2, "move")
	assert.Equal(t, 3.0, move["z"])

	sendFrame(t, g1, map[string]any{"type": "block_place", "x": 0.0, "y": 0.0, "z": 0.0, "material": "dirt"})
	placed := readFrameUntil(t, g2, "block_place")
	assert.Equal(t, "dirt", placed["material"])
}

func TestGameSocket_TokenMakesAuthenticatedMember(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	conn := dialWS(t, ts, "/ws/game/w1?token=t-alice")
	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "editor", welcome["role"])
	self := welcome["self"].(map[string]any)
	assert.Equal(t, "u10", self["id"])
}

func TestGameSocket_BadTokenCloses4401(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	conn := dialWS(t, ts, "/ws/game/w1?token=bogus")
	expectClose(t, conn, closeUnauthorized)
}

func TestTooManyTabs_ErrorEnvelopeThenClose4002(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnPerUser = 1
	_, ts := newTestServer(t, cfg)

	first := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	readFrame(t, first) // welcome

	second := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	envelope := readFrame(t, second)
	require.Equal(t, "error", envelope["type"])
	assert.Equal(t, "too_many_tabs", envelope["code"])
	expectClose(t, second, closeTooManyTabs)
}

func TestRoomFull_ErrorEnvelopeThenClose4001(t *testing.T) {
	cfg := testConfig()
	cfg.RoomMaxMembers = 1
	_, ts := newTestServer(t, cfg)

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	readFrame(t, alice) // welcome

	bob := dialWS(t, ts, "/ws/projects/1?ticket=t-bob")
	envelope := readFrame(t, bob)
	require.Equal(t, "error", envelope["type"])
	assert.Equal(t, "room_full", envelope["code"])
	expectClose(t, bob, closeRoomFull)
}

func TestRateLimit_FloodedWritesDropped(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	alice := dialWS(t, ts, "/ws/projects/1?ticket=t-alice")
	readFrame(t, alice) // welcome

	const flood = 100
	for i := 1; i <= flood; i++ {
		sendFrame(t, alice, map[string]any{"type": "node_move", "id": "n1", "x": float64(i), "y": 0.0})
	}
	sendFrame(t, alice, map[string]any{"type": "snapshot_request"})

	state := readFrameUntil(t, alice, "state")
	entities := state["entities"].(map[string]any)
	n1 := entities["n1"].(map[string]any)
	assert.Less(t, n1["x"].(float64), float64(flood))
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := ts.Client().Get(ts.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	ready, err := ts.Client().Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, 200, ready.StatusCode)

	metricsResp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, 200, metricsResp.StatusCode)
}
