// Package devserver is a local flag authority: it serves split changes,
// segment memberships and push tokens, and streams notifications over SSE.
package devserver

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/flagsync/internal/storage"
)

// Store holds the authoritative flag definitions and segment memberships.
// Every change is stamped with a change number greater than any before it.
type Store struct {
	mu           sync.RWMutex
	splits       map[string]storage.Split
	segments     map[string][]string
	changeNumber int64
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		splits:       make(map[string]storage.Split),
		segments:     make(map[string][]string),
		changeNumber: storage.NoChangeNumber,
		now:          time.Now,
	}
}

// LoadSeed upserts the definitions listed in a JSON file.
func (s *Store) LoadSeed(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file: %w", err)
	}

	var splits []storage.Split
	if err := json.Unmarshal(raw, &splits); err != nil {
		return 0, fmt.Errorf("decoding seed file: %w", err)
	}
	return s.Upsert(splits), nil
}

// nextChangeNumber must be called with mu held
func (s *Store) nextChangeNumber() int64 {
	cn := s.now().UnixMilli()
	if cn <= s.changeNumber {
		cn = s.changeNumber + 1
	}
	s.changeNumber = cn
	return cn
}

// Upsert stores the definitions under a new change number and returns it.
// A definition without status is stored as active.
func (s *Store) Upsert(splits []storage.Split) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cn := s.nextChangeNumber()
	for _, sp := range splits {
		if sp.Status == "" {
			sp.Status = storage.StatusActive
		}
		if sp.DefaultTreatment == "" {
			sp.DefaultTreatment = "control"
		}
		sp.ChangeNumber = cn
		s.splits[sp.Name] = sp
	}
	return cn
}

// Kill marks a definition killed. It returns false for an unknown flag.
func (s *Store) Kill(name, defaultTreatment string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.splits[name]
	if !ok {
		return 0, false
	}

	cn := s.nextChangeNumber()
	sp.Killed = true
	sp.DefaultTreatment = defaultTreatment
	sp.ChangeNumber = cn
	s.splits[name] = sp
	return cn, true
}

// Changes returns every definition modified after since. Till is the
// latest change number, or since itself when nothing is newer.
func (s *Store) Changes(since int64) storage.SplitChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	change := storage.SplitChange{Splits: []storage.Split{}, Since: since, Till: since}
	for _, sp := range s.splits {
		if sp.ChangeNumber > since {
			change.Splits = append(change.Splits, sp)
		}
	}
	sort.Slice(change.Splits, func(i, j int) bool {
		return change.Splits[i].Name < change.Splits[j].Name
	})

	if s.changeNumber > since {
		change.Till = s.changeNumber
	}
	return change
}

// SetSegments replaces the memberships of a user key and returns the
// change number stamped on the update.
func (s *Store) SetSegments(key string, names []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments[key] = append([]string(nil), names...)
	return s.nextChangeNumber()
}

func (s *Store) Segments(key string) storage.MySegments {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := storage.MySegments{Segments: []storage.SegmentRef{}}
	for _, name := range s.segments[key] {
		out.Segments = append(out.Segments, storage.SegmentRef{Name: name})
	}
	return out
}

func (s *Store) ChangeNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changeNumber
}
