package http

import (
	"context"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/server"
)

// wsReadLimit bounds a single WebSocket message. One message may carry
// several envelope lines.
const wsReadLimit = 4 * proto.MaxEnvelopeSize

// WSHandler upgrades HTTP connections and runs them as chat sessions. Text
// frames carry the same newline-terminated envelopes as the TCP transport.
type WSHandler struct {
	chat *server.Server
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(chat *server.Server, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{chat: chat, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("ws connection upgraded")

	// ServeConn owns the connection from here and closes it on teardown. The
	// request context ends when this handler returns, before queued lines
	// have been answered.
	nc := websocket.NetConn(context.Background(), conn, websocket.MessageText)
	h.chat.ServeConn(nc, "ws")
}
