package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/logger"
)

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.check,
	}
}

// ServeWS upgrades a request, verifies its token and hands the connection to
// the hub. The token comes from the path (/ws/{token}) or the token query
// parameter. A bad token is answered with close code 1008 and leaves no
// state behind.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	principal, err := h.authenticate(token)
	if err != nil {
		logger.Warn("websocket_auth_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	origin := clientIP(r, h.cfg.Server.TrustProxyHeaders)
	c := newClient(h, conn, principal.Name, principal.Role, origin)
	if !h.join(c) {
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) authenticate(token string) (auth.Principal, error) {
	if h.auth == nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return h.auth.Authenticate(strings.TrimSpace(token))
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chathub is running")
}

// UserAvailableHandler answers whether a username is free to connect with.
func (h *Hub) UserAvailableHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	_, online := h.conns.lookup(name)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]bool{"available": !online}); err != nil {
		logger.Error("user_available_write_failed", zap.Error(err))
	}
}
