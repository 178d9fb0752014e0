package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/lsclear/sandbox/pkg/bridge"
	"github.com/lsclear/sandbox/pkg/log"
)

// Default geometry for a shell whose client never sent a resize.
const (
	defaultCols = 80
	defaultRows = 24
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer; the socket endpoints
	// accept any origin the browser was allowed to script from.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTerminalWS upgrades the socket, opens a shell exec in the session's
// container, and hands both ends to a bridge until either side closes.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sess := s.sessions.Lookup(sid)
	if sess == nil {
		closeWS(conn, websocket.ClosePolicyViolation, "unknown session")
		return
	}

	shell, err := s.runtime.OpenShell(r.Context(), sess.ContainerID, defaultCols, defaultRows)
	if err != nil {
		log.WithSessionID(sid).Error().Err(err).Msg("failed to open shell")
		closeWS(conn, websocket.CloseInternalServerErr, "failed to open shell")
		return
	}

	log.WithSessionID(sid).Info().
		Str("container_id", sess.ContainerID).
		Str("exec_id", shell.ID).
		Msg("terminal attached")

	resize := func(ctx context.Context, cols, rows uint) error {
		return s.runtime.ResizeExec(ctx, shell.ID, cols, rows)
	}
	bridge.New(conn, shell, resize, sid).Run(r.Context())
}

// handleUpdateWS upgrades the socket and parks it on the notification hub.
func (s *Server) handleUpdateWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if userID == "" {
		closeWS(conn, websocket.ClosePolicyViolation, "user_id is required")
		return
	}

	log.WithUserID(userID).Debug().Msg("update subscriber connected")
	s.notify.Serve(userID, conn)
}

// closeWS sends a close frame with the given code, then drops the socket.
func closeWS(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
