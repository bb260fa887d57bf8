package readstate

import (
	"sync"
	"testing"
)

func TestMarkReadIdempotent(t *testing.T) {
	s := NewStore()

	s.MarkRead("r-1", "u-1")
	s.MarkRead("r-1", "u-1")

	if got := len(s.ReadBy("r-1")); got != 1 {
		t.Errorf("readBy size = %d, want 1", got)
	}
	if !s.HasRead("r-1", "u-1") {
		t.Error("u-1 should have read r-1")
	}
}

func TestMarkReadConcurrentSameUser(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MarkRead("r-1", "u-1")
		}()
	}
	wg.Wait()

	if got := len(s.ReadBy("r-1")); got != 1 {
		t.Errorf("readBy size = %d, want 1", got)
	}
}

func TestSeedMergesNeverRemoves(t *testing.T) {
	s := NewStore()

	s.MarkRead("r-1", "u-1")
	s.Seed("r-1", []string{"u-2"})
	s.Seed("r-1", nil)

	if !s.HasRead("r-1", "u-1") || !s.HasRead("r-1", "u-2") {
		t.Errorf("readBy = %v, want both u-1 and u-2", s.ReadBy("r-1"))
	}
}

func TestUnreadExcludesAuthor(t *testing.T) {
	s := NewStore()

	if s.Unread("r-1", "u-1", "u-1") {
		t.Error("author's own item must never be unread for them")
	}
	if !s.Unread("r-1", "u-2", "u-1") {
		t.Error("unseen item from someone else should be unread")
	}

	s.MarkRead("r-1", "u-1")
	if s.Unread("r-1", "u-2", "u-1") {
		t.Error("seen item should not be unread")
	}
}

func TestUnreadAnonymousViewer(t *testing.T) {
	s := NewStore()
	if s.Unread("r-1", "u-2", "") {
		t.Error("share-link viewers carry no unread state")
	}
}
