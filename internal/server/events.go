package server

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/logger"
)

// Outbound frames. Each struct carries its own "type" value so a frame can be
// marshaled without a wrapper.

type alertEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Text    string `json:"text"`
	Seconds int    `json:"seconds,omitempty"`
}

// entryEvent is a history entry as delivered live. Peer is only set on DM
// deliveries and names the recipient's counterpart.
type entryEvent struct {
	history.Entry
	Peer string `json:"peer,omitempty"`
}

type historyEvent struct {
	Type  string          `json:"type"`
	Items []history.Entry `json:"items"`
	Peer  string          `json:"peer,omitempty"`
	GCID  string          `json:"gcid,omitempty"`
}

type typingEvent struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Typing bool   `json:"typing"`
	Thread string `json:"thread"`
	Peer   string `json:"peer,omitempty"`
	GCID   string `json:"gcid,omitempty"`
}

type presenceEvent struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Action string `json:"action"`
}

type userListEvent struct {
	Type   string                  `json:"type"`
	Users  []string                `json:"users"`
	Admins []string                `json:"admins"`
	Tags   map[string]identity.Tag `json:"tags"`
}

// scopedEvent covers update, delete and clear, which all address a channel
// and optionally an entry.
type scopedEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Text   string `json:"text,omitempty"`
	Thread string `json:"thread"`
	Peer   string `json:"peer,omitempty"`
	GCID   string `json:"gcid,omitempty"`
}

type gcListEvent struct {
	Type   string              `json:"type"`
	Groups []channel.GroupInfo `json:"groups"`
}

type gcEvent struct {
	Type string `json:"type"`
	channel.GroupInfo
}

type gcMemberEvent struct {
	Type    string `json:"type"`
	GCID    string `json:"gcid"`
	User    string `json:"user"`
	Creator string `json:"creator,omitempty"`
}

type unbanPromptEvent struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Origin string `json:"origin,omitempty"`
}

const (
	presenceJoin  = "join"
	presenceLeave = "leave"
)

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("encode_failed", zap.Error(err))
		return nil
	}
	return data
}
