package status

import (
	"sync"
	"time"
)

type State string

const (
	Processing State = "Processing"
	Uploading  State = "Uploading"
	Completed  State = "Completed"
	Failed     State = "Failed"
)

// Status is the progress of a requester's latest upload.
type Status struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Status) String() string {
	if s.State == Failed && s.Reason != "" {
		return string(s.State) + ": " + s.Reason
	}
	return string(s.State)
}

// Sink is the write side handed to code that reports progress but never reads it.
type Sink interface {
	Set(requester int64, state State)
	Fail(requester int64, reason string)
}

// Store keeps the latest Status per requester.
type Store struct {
	mu       sync.RWMutex
	statuses map[int64]Status
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		statuses: make(map[int64]Status),
		now:      time.Now,
	}
}

func (s *Store) Set(requester int64, state State) {
	s.put(requester, Status{State: state})
}

func (s *Store) Fail(requester int64, reason string) {
	s.put(requester, Status{State: Failed, Reason: reason})
}

func (s *Store) put(requester int64, st Status) {
	st.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[requester] = st
}

// Get returns the requester's status, if it ever sent a video.
func (s *Store) Get(requester int64) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[requester]
	return st, ok
}

// Prune forgets statuses untouched for longer than maxAge, except ones
// still in progress.
func (s *Store) Prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for requester, st := range s.statuses {
		if (st.State == Completed || st.State == Failed) && st.UpdatedAt.Before(cutoff) {
			delete(s.statuses, requester)
			removed++
		}
	}
	return removed
}
