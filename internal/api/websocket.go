// writeJSONStream forwards a job's or chat's progress channel to one
// caller-opened socket: a gorilla/websocket Upgrader plus a read loop kept
// alive purely to detect client disconnect. Each connection gets its own
// subscriber since every stream here (job progress, chat tokens) is already
// scoped to a single id by the caller — there is no audience to broadcast to.
package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// writeJSONStream upgrades r to a websocket connection and writes every
// value received on values as a JSON frame, until values closes or the
// client disconnects.
func writeJSONStream(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, values <-chan interface{}) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case v, ok := <-values:
			if !ok {
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-disconnected:
			return
		}
	}
}
