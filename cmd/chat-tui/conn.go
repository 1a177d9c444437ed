package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/identity"
)

// frame is the union of every server event the client renders.
type frame struct {
	history.Entry
	Peer    string                  `json:"peer"`
	Code    string                  `json:"code"`
	Seconds int                     `json:"seconds"`
	Items   []history.Entry         `json:"items"`
	User    string                  `json:"user"`
	Action  string                  `json:"action"`
	Typing  bool                    `json:"typing"`
	Users   []string                `json:"users"`
	Admins  []string                `json:"admins"`
	Tags    map[string]identity.Tag `json:"tags"`
	Groups  []channel.GroupInfo     `json:"groups"`
	Name    string                  `json:"name"`
	Creator string                  `json:"creator"`
	Members []string                `json:"members"`
	Origin  string                  `json:"origin"`
}

type frameMsg frame

type closedMsg struct{ err error }

// sender is the write half of the connection.
type sender interface {
	WriteJSON(v any) error
}

func wsURL(server, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(token)
	return u.String(), nil
}

func dial(server, token, origin string) (*websocket.Conn, error) {
	target, err := wsURL(server, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

// readLoop forwards decoded frames until the connection ends.
func readLoop(conn *websocket.Conn, out chan<- tea.Msg) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			out <- closedMsg{err: err}
			close(out)
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		out <- frameMsg(f)
	}
}

func waitMsg(in <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-in
		if !ok {
			return nil
		}
		return msg
	}
}
