// Package seenset persists the set of item identifiers a crawl job has
// already processed. The set is append-only and survives process crashes:
// writes go to a temp file that is atomically renamed over the checkpoint,
// so a reader never observes a truncated file.
package seenset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultFlushEvery is how many Adds may accumulate before the set is
// flushed to disk automatically.
const DefaultFlushEvery = 5

// FileSet is a file-backed seen set for one crawl job. Safe for concurrent
// use.
type FileSet struct {
	mu         sync.Mutex
	path       string
	ids        map[string]struct{}
	dirty      int
	flushEvery int
}

// legacyShape supports the older {"ids": [...]} checkpoint format.
type legacyShape struct {
	IDs []string `json:"ids"`
}

// Open loads (or initializes) the seen set stored at path. A missing file
// yields an empty set; a corrupt file is treated as empty rather than
// blocking the crawl.
func Open(path string) (*FileSet, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state dir for %s: %w", path, err)
	}
	s := &FileSet{
		path:       path,
		ids:        make(map[string]struct{}),
		flushEvery: DefaultFlushEvery,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seen set %s: %w", path, err)
	}
	var ids []string
	if jerr := json.Unmarshal(data, &ids); jerr != nil {
		var legacy legacyShape
		if jerr2 := json.Unmarshal(data, &legacy); jerr2 != nil {
			return s, nil
		}
		ids = legacy.IDs
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s, nil
}

// Contains reports whether id was previously processed.
func (s *FileSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add records id as processed. Every flushEvery additions the set is
// flushed, bounding how much progress a crash can lose.
func (s *FileSet) Add(id string) error {
	s.mu.Lock()
	if _, ok := s.ids[id]; ok {
		s.mu.Unlock()
		return nil
	}
	s.ids[id] = struct{}{}
	s.dirty++
	flush := s.dirty >= s.flushEvery
	s.mu.Unlock()
	if flush {
		return s.Flush()
	}
	return nil
}

// Len returns the number of ids in the set.
func (s *FileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Flush writes the full set to disk via write-temp-then-rename.
func (s *FileSet) Flush() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal seen set: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write seen set temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace seen set %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.dirty = 0
	s.mu.Unlock()
	return nil
}
