// Package banstore keeps the ban list in a Pebble database so bans survive
// restarts.
package banstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/logger"
)

// Key layout:
//
//	ban:user:<name>     -> origin recorded with the ban (may be empty)
//	ban:origin:<origin> -> empty
const (
	prefix       = "ban:"
	userPrefix   = "ban:user:"
	originPrefix = "ban:origin:"
)

var ErrNotFound = errors.New("no such ban")

// Store persists identity.BanSnapshot values.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	return open(path, &pebble.Options{})
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	logger.Info("opening_ban_store", zap.String("path", path))
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("ban_store_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open ban store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("ban_store_closed")
	return err
}

// Save replaces the stored ban list with snap in one batch.
func (s *Store) Save(snap identity.BanSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("ban store is closed")
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange([]byte(prefix), prefixEnd(prefix), nil); err != nil {
		return err
	}
	for _, u := range snap.Users {
		if err := b.Set([]byte(userPrefix+u), []byte(snap.UserOrigins[u]), nil); err != nil {
			return err
		}
	}
	for _, o := range snap.Origins {
		if err := b.Set([]byte(originPrefix+o), nil, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Load reads the stored ban list.
func (s *Store) Load() (identity.BanSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := identity.BanSnapshot{
		Users:       []string{},
		Origins:     []string{},
		UserOrigins: map[string]string{},
	}
	if s.db == nil {
		return snap, errors.New("ban store is closed")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return snap, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		switch {
		case strings.HasPrefix(key, userPrefix):
			name := strings.TrimPrefix(key, userPrefix)
			snap.Users = append(snap.Users, name)
			if v := iter.Value(); len(v) > 0 {
				snap.UserOrigins[name] = string(v)
			}
		case strings.HasPrefix(key, originPrefix):
			snap.Origins = append(snap.Origins, strings.TrimPrefix(key, originPrefix))
		}
	}
	sort.Strings(snap.Users)
	sort.Strings(snap.Origins)
	return snap, iter.Error()
}

// Remove lifts the ban on name together with the origin stored for it.
func (s *Store) Remove(name string) error {
	snap, err := s.Load()
	if err != nil {
		return err
	}
	idx := sort.SearchStrings(snap.Users, name)
	if idx == len(snap.Users) || snap.Users[idx] != name {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	snap.Users = append(snap.Users[:idx], snap.Users[idx+1:]...)
	if origin, ok := snap.UserOrigins[name]; ok {
		delete(snap.UserOrigins, name)
		kept := snap.Origins[:0]
		for _, o := range snap.Origins {
			if o != origin {
				kept = append(kept, o)
			}
		}
		snap.Origins = kept
	}
	return s.Save(snap)
}

func prefixEnd(p string) []byte {
	end := []byte(p)
	end[len(end)-1]++
	return end
}
