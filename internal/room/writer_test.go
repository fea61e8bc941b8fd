package room

import (
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

func TestClientWriter_DeliversQueuedFrames(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock())
	defer cw.stop()

	cw.send <- []byte(`{"type":"pong"}`)

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestClientWriter_StopWithCodeSendsCloseFrame(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock())

	cw.stopWithCode(4001, "room_full")

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := clientConn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 4001, closeErr.Code)
	assert.Equal(t, "room_full", closeErr.Text)
}

func TestClientWriter_StopWithCodeFlushesQueuedFrames(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)

	// Writer whose goroutine never reached its select: the frame is
	// still queued when the close lands.
	cw := &clientWriter{
		conn:         serverConn,
		clock:        clockwork.NewRealClock(),
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
	cw.send <- []byte(`{"type":"error","code":"room_full","message":"room is at capacity"}`)

	cw.stopWithCode(4001, "room_full")

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","code":"room_full","message":"room is at capacity"}`, string(msg))

	_, _, err = clientConn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 4001, closeErr.Code)
	assert.Equal(t, "room_full", closeErr.Text)
}

func TestClientWriter_StopIdempotent(t *testing.T) {
	serverConn, _ := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock())

	cw.stop()
	cw.stop()
	cw.stopWithCode(4001, "room_full")
}

func TestClient_SendReportsFullBuffer(t *testing.T) {
	serverConn, _ := newTestConnPair(t)
	client := NewClient(serverConn, clockwork.NewRealClock(), peer("u1", "alice"), domain.RoleEditor)
	defer client.Close()

	// Stop the writer goroutine so nothing drains the channel, then
	// fill the buffer.
	client.writer.stopOnce.Do(func() {
		close(client.writer.done)
	})
	client.writer.wg.Wait()

	for i := 0; i < sendBufferSize; i++ {
		require.True(t, client.Send([]byte("x")))
	}
	assert.False(t, client.Send([]byte("overflow")))
}
