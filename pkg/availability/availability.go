// Package availability tracks team members who are temporarily unable to review.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUntilInPast is returned when an absence would already be over.
var ErrUntilInPast = errors.New("until date must be in the future")

// Absence records when a reviewer became unavailable and, optionally, until when.
type Absence struct {
	Since time.Time
	Until time.Time // zero = until further notice
}

// Indefinite reports whether the absence has no end date.
func (a Absence) Indefinite() bool {
	return a.Until.IsZero()
}

// Entry pairs a login with its absence.
type Entry struct {
	Absence
	Login string
}

// Store is a thread-safe set of absences. Expired absences count as available
// without needing to be removed.
type Store struct {
	entries map[string]Absence
	now     func() time.Time
	mu      sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]Absence),
		now:     time.Now,
	}
}

// WithClock overrides the time source. It returns s for chaining.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Normalize strips a leading "@" and surrounding whitespace from a login.
func Normalize(login string) string {
	return strings.TrimPrefix(strings.TrimSpace(login), "@")
}

// Restore loads an absence as-is, e.g. from a config file. Expired entries are kept.
func (s *Store) Restore(login string, a Absence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[Normalize(login)] = a
}

// MarkUnavailable records login as unavailable until the given time.
// A zero until means indefinitely.
func (s *Store) MarkUnavailable(login string, until time.Time) error {
	login = Normalize(login)
	if login == "" {
		return errors.New("login must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !until.IsZero() && !until.After(now) {
		return fmt.Errorf("%s: %w", until.Format(time.DateOnly), ErrUntilInPast)
	}
	s.entries[login] = Absence{Since: now, Until: until}
	return nil
}

// MarkAvailable removes any absence for login. It reports whether one existed.
func (s *Store) MarkAvailable(login string) bool {
	login = Normalize(login)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[login]
	delete(s.entries, login)
	return ok
}

// IsUnavailable reports whether login is currently marked unavailable.
func (s *Store) IsUnavailable(login string) bool {
	login = Normalize(login)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.entries[login]
	if !ok {
		return false
	}
	return a.Indefinite() || a.Until.After(s.now())
}

// Active returns the absences still in effect, sorted by login.
func (s *Store) Active() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []Entry
	for login, a := range s.entries {
		if a.Indefinite() || a.Until.After(now) {
			out = append(out, Entry{Login: login, Absence: a})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}

// All returns every stored absence, including expired ones, sorted by login.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for login, a := range s.entries {
		out = append(out, Entry{Login: login, Absence: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}

// Prune drops expired absences and returns how many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for login, a := range s.entries {
		if !a.Indefinite() && !a.Until.After(now) {
			delete(s.entries, login)
			removed++
		}
	}
	return removed
}
