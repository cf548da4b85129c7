// Package persistence keeps durable application state as named JSON
// sections in a single state.json under the data directory. Sections are
// opaque blobs; callers own their schemas.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store is a section-keyed JSON state file. Every Put rewrites the file, so
// it suits small, rarely-changing state like device registrations.
type Store struct {
	path     string
	mu       sync.Mutex
	sections map[string]json.RawMessage
}

// Open loads the state file under dataDir, starting empty when none exists.
func Open(dataDir string) (*Store, error) {
	s := &Store{
		path:     filepath.Join(dataDir, "state.json"),
		sections: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.sections); err != nil {
		return nil, err
	}
	return s, nil
}

// Get unmarshals a section into out. The bool reports whether the section
// exists at all.
func (s *Store) Get(section string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.sections[section]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Put replaces a section and persists the whole file.
func (s *Store) Put(section string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[section] = raw
	return s.flush()
}

// flush writes the file through a temp name and renames it into place so a
// crash mid-write never leaves a truncated state file. Caller holds mu.
func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.sections, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
