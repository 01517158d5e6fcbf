package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// connection is one physical WebSocket. Writes go through send and are
// performed by writePump only.
type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, buffer int) *connection {
	return &connection{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue frames an event for writePump. With block set it waits for buffer
// space until the connection closes; otherwise a full buffer drops the frame.
func (cn *connection) enqueue(event string, data any, block bool) error {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-cn.done:
		return ErrNotConnected
	default:
	}
	if block {
		select {
		case cn.send <- raw:
			return nil
		case <-cn.done:
			return ErrNotConnected
		}
	}
	select {
	case cn.send <- raw:
		return nil
	default:
		return errSendBufferOverflow
	}
}

func (cn *connection) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cn.close()
	}()

	for {
		select {
		case <-cn.done:
			return
		case msg := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown sends a close frame before closing.
func (cn *connection) shutdown(writeTimeout time.Duration) {
	select {
	case <-cn.done:
		return
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	cn.close()
}

func (cn *connection) close() {
	cn.closeOnce.Do(func() {
		close(cn.done)
		_ = cn.ws.Close()
	})
}
