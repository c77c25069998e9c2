package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/wsconn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: readBufferSize,
	// Native clients send no Origin; browser clients are authenticated by AUTH like everyone else.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and serves it as a hub connection
// until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(protocol.LengthSize + protocol.MaxFrameSize)
	s.ServeConn(wsconn.New(ws))
}
