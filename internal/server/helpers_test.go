package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/protocol"
)

const testSuperPass = "sesame"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"http://localhost:8080"}
	cfg.Moderation.SuperPass = testSuperPass
	cfg.Moderation.BanDB = ""
	cfg.Metrics.Enabled = false
	return cfg
}

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T, cfg config.Config, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(cfg, opts...)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(2 * time.Second) })
	return h
}

// onLoop runs fn on the hub goroutine and waits for it. Actions are FIFO, so
// everything enqueued before has already run when it returns.
func onLoop(t *testing.T, h *Hub, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, h.enqueue(func() {
		fn()
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not run the action")
	}
}

// connect joins a socketless client and waits until the hub admitted or
// refused it.
func connect(t *testing.T, h *Hub, name string, role identity.Role, origin string) *Client {
	t.Helper()
	c := newClient(h, nil, name, role, origin)
	require.True(t, h.join(c))
	onLoop(t, h, func() {})
	return c
}

// say dispatches a frame from c synchronously.
func say(t *testing.T, h *Hub, c *Client, in protocol.Inbound) {
	t.Helper()
	onLoop(t, h, func() { h.dispatch(c, in) })
}

func sayText(t *testing.T, h *Hub, c *Client, msg string) {
	t.Helper()
	say(t, h, c, protocol.Inbound{Text: msg})
}

type frame map[string]any

func (f frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func decode(t *testing.T, raw []byte) frame {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

// drain returns every frame currently queued for c. closed reports whether
// the send channel was closed.
func drain(t *testing.T, c *Client) (frames []frame, closed bool) {
	t.Helper()
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames, true
			}
			frames = append(frames, decode(t, raw))
		default:
			return frames, false
		}
	}
}

func ofType(frames []frame, typ string) []frame {
	var out []frame
	for _, f := range frames {
		if f.str("type") == typ {
			out = append(out, f)
		}
	}
	return out
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.str("type"))
	}
	return out
}

// await reads frames for c until match accepts one or the timeout passes.
func await(t *testing.T, c *Client, match func(frame) bool) frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw, ok := <-c.send:
			require.True(t, ok, "connection closed while waiting")
			if f := decode(t, raw); match(f) {
				return f
			}
		case <-deadline:
			t.Fatal("expected frame never arrived")
			return nil
		}
	}
}

// alertOf returns the single alert in frames.
func alertOf(t *testing.T, frames []frame) frame {
	t.Helper()
	alerts := ofType(frames, protocol.EventAlert)
	require.Len(t, alerts, 1, "frames: %v", types(frames))
	return alerts[0]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
