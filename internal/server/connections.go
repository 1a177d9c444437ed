package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var errAlreadyConnected = errors.New("identity already connected")

// connections is the single source of truth for which identities are
// reachable. The hub loop mutates it; HTTP handlers only read it.
type connections struct {
	mu     sync.RWMutex
	byName map[string]*Client
}

func newConnections() *connections {
	return &connections{byName: make(map[string]*Client)}
}

// add registers c unless its identity already has a live connection.
func (cs *connections) add(c *Client) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.byName[c.name]; ok {
		return errAlreadyConnected
	}
	cs.byName[c.name] = c
	return nil
}

// remove drops c only if it is still the registered connection for its
// identity, so a stale handle never evicts a newer one.
func (cs *connections) remove(c *Client) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cur, ok := cs.byName[c.name]; ok && cur == c {
		delete(cs.byName, c.name)
		return true
	}
	return false
}

func (cs *connections) get(name string) (*Client, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byName[name]
	return c, ok
}

// lookup resolves name case-insensitively to the connected identity.
func (cs *connections) lookup(name string) (*Client, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if c, ok := cs.byName[name]; ok {
		return c, true
	}
	for known, c := range cs.byName {
		if strings.EqualFold(known, name) {
			return c, true
		}
	}
	return nil, false
}

// names returns the connected identities in sorted order.
func (cs *connections) names() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]string, 0, len(cs.byName))
	for n := range cs.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// snapshot returns the live clients ordered by name.
func (cs *connections) snapshot() []*Client {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]*Client, 0, len(cs.byName))
	for _, c := range cs.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (cs *connections) count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.byName)
}
