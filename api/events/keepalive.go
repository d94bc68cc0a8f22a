package events

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingFrame = "ping"
	pongFrame = "pong"

	writeTimeout = 5 * time.Second
)

// keepalive sends a "ping" text frame on a fixed period while the stream is
// open. A failed write is handed to onError.
type keepalive struct {
	stopCh chan struct{}
	once   sync.Once
}

func startKeepalive(conn wsConn, interval time.Duration, onError func(error)) *keepalive {
	k := &keepalive{stopCh: make(chan struct{})}
	go k.run(conn, interval, onError)
	return k
}

func (k *keepalive) run(conn wsConn, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
		}

		// Stop may have raced with the tick.
		select {
		case <-k.stopCh:
			return
		default:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, []byte(pingFrame))
		if err != nil {
			onError(err)
			return
		}
	}
}

// stop is idempotent and does not wait for the goroutine.
func (k *keepalive) stop() {
	k.once.Do(func() {
		close(k.stopCh)
	})
}
