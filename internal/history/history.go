// Package history keeps a bounded, ordered message buffer per channel.
package history

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultLimit is the number of entries retained per channel.
const DefaultLimit = 100

// Kind is the entry type; it doubles as the outbound event type.
type Kind string

const (
	KindMessage Kind = "message"
	KindMedia   Kind = "media"
	KindSystem  Kind = "system"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("not allowed to delete this message")
)

// Entry is the stored form of a chat message. It never carries a DM peer;
// that field is added per recipient at delivery time.
type Entry struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Kind      Kind   `json:"type"`
	Text      string `json:"text"`
	URL       string `json:"url,omitempty"`
	MIME      string `json:"mime,omitempty"`
	Model     string `json:"model,omitempty"`
	Thread    string `json:"thread,omitempty"`
	GCID      string `json:"gcid,omitempty"`
}

// Persistable reports whether the entry belongs in a history buffer.
func (e Entry) Persistable(systemSender string) bool {
	return (e.Kind == KindMessage || e.Kind == KindMedia) && e.Sender != systemSender
}

type buffer struct {
	entries []Entry
	touched time.Time
}

// Store holds one buffer per channel key.
type Store struct {
	mu      sync.Mutex
	limit   int
	buffers map[string]*buffer
	now     func() time.Time
}

// NewStore creates a store capped at limit entries per channel.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:   limit,
		buffers: make(map[string]*buffer),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for activity tracking.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) get(key string) *buffer {
	b, ok := s.buffers[key]
	if !ok {
		b = &buffer{}
		s.buffers[key] = b
	}
	return b
}

// Append adds e to the channel, evicting the oldest entries beyond the cap.
func (s *Store) Append(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(key)
	b.entries = append(b.entries, e)
	if over := len(b.entries) - s.limit; over > 0 {
		kept := make([]Entry, s.limit)
		copy(kept, b.entries[over:])
		b.entries = kept
	}
	b.touched = s.now()
}

// Snapshot returns a copy of the channel's entries, oldest first. It never
// returns nil.
func (s *Store) Snapshot(key string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries in the channel.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[key]; ok {
		return len(b.entries)
	}
	return 0
}

// EditText replaces the text of entry id. It reports whether it was found.
func (s *Store) EditText(key, id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok {
		return false
	}
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries[i].Text = text
			b.touched = s.now()
			return true
		}
	}
	return false
}

// Find returns entry id from the channel.
func (s *Store) Find(key, id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[key]; ok {
		for _, e := range b.entries {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Authority describes who is deleting and what they may delete.
type Authority struct {
	Requester string
	// Privileged requesters may delete entries of non-privileged senders.
	Privileged bool
	// Highest may delete anything.
	Highest bool
	// Override grants channel-level permission, e.g. a DM participant.
	Override bool
	// IsPrivileged classifies an entry's sender.
	IsPrivileged func(sender string) bool
}

func (a Authority) allows(sender string) bool {
	switch {
	case sender == a.Requester, a.Override, a.Highest:
		return true
	case a.Privileged:
		return a.IsPrivileged == nil || !a.IsPrivileged(sender)
	default:
		return false
	}
}

// Delete removes entry id if auth permits it and returns the removed entry.
func (s *Store) Delete(key, id string, auth Authority) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	for i, e := range b.entries {
		if e.ID != id {
			continue
		}
		if !auth.allows(e.Sender) {
			return Entry{}, ErrForbidden
		}
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.touched = s.now()
		return e, nil
	}
	return Entry{}, ErrNotFound
}

// Clear empties the channel's buffer.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[key]; ok {
		b.entries = nil
		b.touched = s.now()
	}
}

// Drop removes the channel's buffer entirely.
func (s *Store) Drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, key)
}

// Idle returns, sorted, the keys accepted by match whose last activity is
// before cutoff.
func (s *Store) Idle(cutoff time.Time, match func(key string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, b := range s.buffers {
		if match != nil && !match(k) {
			continue
		}
		if b.touched.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
