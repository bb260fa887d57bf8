// Package readstate answers "has user U seen item I" and aggregates unread
// counts across the two independent entity streams (remarks and chat
// messages) without double counting.
package readstate

import "sync"

// Store holds, per item, the set of user ids who have seen it. Entries are
// only ever added: read state is monotonically non-decreasing for the life
// of a record.
type Store struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{} // itemID → set of userIDs
}

func NewStore() *Store {
	return &Store{seen: make(map[string]map[string]struct{})}
}

// MarkRead records that userID has seen itemID. Idempotent: marking an
// already-seen item is a no-op.
func (s *Store) MarkRead(itemID, userID string) {
	if itemID == "" || userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seen[itemID]
	if !ok {
		set = make(map[string]struct{})
		s.seen[itemID] = set
	}
	set[userID] = struct{}{}
}

// Seed merges an entity's fetched readBy list into the store. Existing
// entries are kept; ids are never removed.
func (s *Store) Seed(itemID string, readBy []string) {
	if itemID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seen[itemID]
	if !ok {
		set = make(map[string]struct{})
		s.seen[itemID] = set
	}
	for _, id := range readBy {
		set[id] = struct{}{}
	}
}

// HasRead reports whether userID has seen itemID.
func (s *Store) HasRead(itemID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[itemID][userID]
	return ok
}

// Unread reports whether itemID is unread for userID: not yet seen and not
// authored by them. An author's own contribution is never unread for them.
func (s *Store) Unread(itemID, authorID, userID string) bool {
	if userID == "" || authorID == userID {
		return false
	}
	return !s.HasRead(itemID, userID)
}

// ReadBy returns the user ids recorded for itemID.
func (s *Store) ReadBy(itemID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.seen[itemID]))
	for id := range s.seen[itemID] {
		out = append(out, id)
	}
	return out
}
