// Package protocol defines the JSON frames exchanged between chat clients and
// the hub, and the rejection type used to turn refused operations into
// client-visible alerts.
package protocol

import "strings"

// Thread descriptors carried on inbound and outbound frames.
const (
	ThreadMain  = "main"
	ThreadDM    = "dm"
	ThreadGroup = "gc"
)

// Inbound request types. An empty type means a chat message, media post,
// command or typing signal.
const (
	TypeHistoryRequest = "history_request"
	TypeDMHistory      = "dm_history"
	TypeGCHistory      = "gc_history"
	TypeActivity       = "activity"
	TypeCreateGC       = "create_gc"
	TypeUpdateGC       = "update_gc"
	TypeExitGC         = "exit_gc"
	TypeDeleteGC       = "delete_gc"
)

// Outbound event types.
const (
	EventHistory        = "history"
	EventDMHistory      = "dm_history"
	EventGCHistory      = "gc_history"
	EventMessage        = "message"
	EventMedia          = "media"
	EventSystem         = "system"
	EventTyping         = "typing"
	EventPresence       = "presence"
	EventUserList       = "user_list"
	EventUpdate         = "update"
	EventDelete         = "delete"
	EventClear          = "clear"
	EventAlert          = "alert"
	EventGCList         = "gc_list"
	EventGCCreated      = "gc_created"
	EventGCDeleted      = "gc_deleted"
	EventGCMemberJoined = "gc_member_joined"
	EventGCMemberLeft   = "gc_member_left"
	EventGCPrompt       = "gc_prompt"
	EventGCSettings     = "gc_settings"
	EventUnbanPrompt    = "unban_prompt"
)

// Inbound is a single frame received from a connection.
type Inbound struct {
	Type      string   `json:"type,omitempty"`
	Text      string   `json:"text,omitempty"`
	URL       string   `json:"url,omitempty"`
	MIME      string   `json:"mime,omitempty"`
	Thread    string   `json:"thread,omitempty"`
	Peer      string   `json:"peer,omitempty"`
	GCID      string   `json:"gcid,omitempty"`
	Typing    *bool    `json:"typing,omitempty"`
	Image     string   `json:"image,omitempty"`
	ImageMIME string   `json:"image_mime,omitempty"`
	Name      string   `json:"name,omitempty"`
	Members   []string `json:"members,omitempty"`
}

// Normalized returns the frame with surrounding whitespace removed from its
// routing fields.
func (in Inbound) Normalized() Inbound {
	in.Type = strings.TrimSpace(in.Type)
	in.Thread = strings.ToLower(strings.TrimSpace(in.Thread))
	in.Peer = strings.TrimSpace(in.Peer)
	in.GCID = strings.TrimSpace(in.GCID)
	in.URL = strings.TrimSpace(in.URL)
	in.MIME = strings.TrimSpace(in.MIME)
	in.Image = strings.TrimSpace(in.Image)
	in.ImageMIME = strings.TrimSpace(in.ImageMIME)
	return in
}
