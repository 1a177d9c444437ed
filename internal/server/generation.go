package server

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/command"
	"github.com/Tyrowin/chathub/internal/generation"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/protocol"
	"github.com/Tyrowin/chathub/internal/provider"
)

// generationSink hands task progress back to the hub loop.
type generationSink struct {
	hub *Hub
}

func (s generationSink) Update(task generation.Info, text string) {
	s.hub.enqueue(func() { s.hub.streamUpdate(task, text) })
}

func (s generationSink) Finalize(task generation.Info, outcome generation.Outcome, text string) {
	if !s.hub.enqueue(func() { s.hub.finishTask(task, outcome, text) }) {
		logger.Warn("generation_result_dropped",
			zap.String("task", task.ID),
			zap.String("outcome", outcome.String()))
	}
}

// streamUpdate rewrites the placeholder with the text streamed so far.
func (h *Hub) streamUpdate(task generation.Info, text string) {
	ch, ok := h.tasks[task.ID]
	if !ok {
		return
	}
	h.rewrite(ch, task.ID, text)
}

func (h *Hub) finishTask(task generation.Info, outcome generation.Outcome, text string) {
	ch, ok := h.tasks[task.ID]
	if !ok {
		return
	}
	delete(h.tasks, task.ID)
	h.rewrite(ch, task.ID, text)
	if outcome == generation.Stopped {
		h.system(fmt.Sprintf("AI generation by %s was stopped", task.Owner))
	}
}

// rewrite replaces an entry's text and tells the channel. Entries that were
// deleted or cleared in the meantime stay gone.
func (h *Hub) rewrite(ch channel.Channel, id, text string) {
	if !h.history.EditText(ch.Key, id, text) {
		return
	}
	h.fanout(ch, func(recipient string) any {
		return scoped(ch, recipient, scopedEvent{Type: protocol.EventUpdate, ID: id, Text: text})
	})
}

// mention handles a message addressed to the assistant: either a stop
// request or a prompt that starts a streaming generation.
func (h *Hub) mention(c *Client, ch channel.Channel, m command.Mention, in protocol.Inbound) error {
	if m.Stop {
		return h.stopGeneration(c, m.Target)
	}
	if !h.gen.Available() {
		return protocol.Reject(protocol.CodeInfo, "@ai is not configured")
	}
	if !h.aiEnabled && !h.ids.EffectiveAdmin(c.name) {
		return protocol.Reject(protocol.CodeInfo, "@ai is disabled by admin")
	}
	if ch.Kind != channel.DirectMessage {
		if err := h.muteRejection(c.name); err != nil {
			return err
		}
	}
	if in.URL != "" {
		return protocol.Reject(protocol.CodeInfo, "@ai only accepts a single image")
	}
	prompt := h.clip(strings.TrimSpace(m.Prompt))
	if prompt == "" {
		return protocol.Reject(protocol.CodeInfo, "usage: @ai <prompt>")
	}
	if in.Image != "" && !isStaticImage(in.Image, in.ImageMIME) {
		return protocol.Reject(protocol.CodeInfo, "@ai only supports static images (png/jpg/webp)")
	}

	prior := contextMessages(h.history.Snapshot(ch.Key))

	if err := h.post(c, ch, history.Entry{Kind: history.KindMessage, Text: command.MentionPrefix + " " + prompt}); err != nil {
		return err
	}
	if in.Image != "" {
		h.publish(ch, history.Entry{
			ID:     c.name + "-" + h.newID(),
			Sender: c.name,
			Kind:   history.KindMedia,
			URL:    in.Image,
			MIME:   in.ImageMIME,
		})
	}

	id := aiSender + "-" + h.newID()
	h.publish(ch, history.Entry{
		ID:     id,
		Sender: aiSender,
		Kind:   history.KindMessage,
		Model:  h.gen.Model(in.Image),
	})

	h.tasks[id] = ch
	err := h.gen.Start(generation.TaskSpec{
		Info:     generation.Info{ID: id, Owner: c.name, Channel: ch.Key},
		Prompt:   prompt,
		ImageURL: in.Image,
		History:  prior,
	})
	if err != nil {
		delete(h.tasks, id)
		h.rewrite(ch, id, generation.ErrorMarker)
		logger.Error("generation_start_failed", zap.String("user", c.name), zap.String("task", id), zap.Error(err))
	}
	return nil
}

// stopGeneration cancels generations. Users stop their own; admins stop a
// named user's or, with no target, everyone's.
func (h *Hub) stopGeneration(c *Client, target string) error {
	if !h.ids.EffectiveAdmin(c.name) {
		if h.gen.CancelOwner(c.name) == 0 {
			return protocol.Reject(protocol.CodeInfo, "you have no running AI generation")
		}
		return nil
	}
	if target != "" {
		name := h.knownTarget(target)
		h.gen.CancelOwner(name)
		h.system(fmt.Sprintf("AI generation for %s was stopped by admin", name))
		return nil
	}
	h.gen.CancelAll()
	h.system("All AI generations were stopped by admin")
	return nil
}

// contextMessages turns a channel snapshot into prior conversation for the
// backend. Placeholders and terminal markers are left out.
func contextMessages(entries []history.Entry) []provider.Message {
	out := make([]provider.Message, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if e.Kind != history.KindMessage || text == "" || isMarker(text) {
			continue
		}
		if e.Sender == aiSender {
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: text})
			continue
		}
		out = append(out, provider.Message{Role: provider.RoleUser, Content: e.Sender + ": " + text})
	}
	return out
}

func isMarker(text string) bool {
	switch text {
	case generation.StoppedMarker, generation.NoResponseMarker, generation.ErrorMarker:
		return true
	}
	return false
}

var staticImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// isStaticImage accepts image MIME types other than GIF, or, when the MIME is
// missing, a known static image extension.
func isStaticImage(url, mimeType string) bool {
	if mimeType != "" {
		media, _, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return false
		}
		return strings.HasPrefix(media, "image/") && media != "image/gif"
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return staticImageExts[strings.ToLower(path.Ext(url))]
}

// PurgeIdle drops DM and group history untouched since cutoff. Channels with
// a running generation are kept. It runs on the hub loop.
func (h *Hub) PurgeIdle(ctx context.Context, cutoff time.Time) (int, error) {
	result := make(chan int, 1)
	if !h.enqueue(func() { result <- h.purgeIdle(cutoff) }) {
		return 0, ErrHubStopped
	}
	select {
	case n := <-result:
		return n, nil
	case <-h.done:
		return 0, ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) purgeIdle(cutoff time.Time) int {
	busy := make(map[string]bool, len(h.tasks))
	for _, ch := range h.tasks {
		busy[ch.Key] = true
	}
	keys := h.history.Idle(cutoff, func(key string) bool {
		return strings.HasPrefix(key, "dm:") || strings.HasPrefix(key, "gc:")
	})
	purged := 0
	for _, key := range keys {
		if busy[key] {
			continue
		}
		h.history.Drop(key)
		if strings.HasPrefix(key, "dm:") {
			h.channels.ForgetDM(key)
		}
		purged++
	}
	if purged > 0 {
		logger.Info("idle_history_purged", zap.Int("channels", purged), zap.Time("cutoff", cutoff))
	}
	return purged
}
