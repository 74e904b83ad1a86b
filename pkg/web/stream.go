package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout   = 5 * time.Second
	streamAcquireTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// stream pushes the /stats document to a websocket client every StreamInterval until
// the client goes away or the server stops.
func (hs *Server) stream(w http.ResponseWriter, req *http.Request) {
	acquireCtx, cancelAcquire := context.WithTimeout(req.Context(), streamAcquireTimeout)
	acquired := hs.streams.Acquire(acquireCtx)
	cancelAcquire()
	if !acquired {
		http.Error(w, "too many stream clients", http.StatusServiceUnavailable)
		return
	}
	defer hs.streams.Release()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied to the client
		hs.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()
	hs.logger.WithField("clients", hs.streams.InUse()).Debug("stream client connected")

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go discardIncoming(conn, cancel)

	ticker := time.NewTicker(hs.opts.StreamInterval)
	defer ticker.Stop()
	for {
		if err := hs.pushStats(conn); err != nil {
			hs.logger.WithError(err).Debug("stream client went away")
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteTimeout))
			return
		case <-ticker.C:
		}
	}
}

func (hs *Server) pushStats(conn *websocket.Conn) error {
	payload, err := json.Marshal(hs.statsDocument())
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// discardIncoming reads until the connection fails, which is how a closed client is
// noticed, then calls gone.
func discardIncoming(conn *websocket.Conn, gone context.CancelFunc) {
	defer gone()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
