package room

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline  = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongDeadline   = 60 * time.Second
	idleTimeout    = 5 * time.Minute
	sendBufferSize = 16
)

// clientWriter owns all writes to one WebSocket connection. Frames are
// queued on a bounded channel; a full queue is the caller's signal to
// evict the connection rather than block the room.
type clientWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	lastActivity time.Time
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		conn:         conn,
		clock:        clock,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		lastActivity: clock.Now(),
	}
	cw.updateReadDeadline()
	conn.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		cw.recordActivity()
		return nil
	})
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.send:
			if !ok {
				return
			}
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			if cw.idle() {
				return
			}
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// stop tears the connection down without a close frame. Used when the
// peer is already gone.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// stopWithCode writes a close frame with the given code and reason, then
// closes the connection. The run goroutine is stopped first so the close
// frame is never written concurrently with a queued message. Frames the
// goroutine left in the queue are flushed before the close frame: a run
// goroutine that has not reached its select yet sees both the queued
// frame and done ready and may pick done, stranding the frame.
func (cw *clientWriter) stopWithCode(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.done)
		cw.wg.Wait()

	drain:
		for {
			select {
			case msg := <-cw.send:
				cw.updateWriteDeadline()
				if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					break drain
				}
			default:
				break drain
			}
		}

		closeMsg := websocket.FormatCloseMessage(code, reason)
		cw.updateWriteDeadline()
		_ = cw.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.conn.Close()
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.conn.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}

func (cw *clientWriter) recordActivity() {
	cw.mu.Lock()
	cw.lastActivity = cw.clock.Now()
	cw.mu.Unlock()
}

func (cw *clientWriter) idle() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.clock.Since(cw.lastActivity) >= idleTimeout
}
