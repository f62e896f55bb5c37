package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the in-memory view of the parameter file. Every mutation is
// written back to disk before it returns.
type Store struct {
	mu   sync.RWMutex
	path string
	file File
}

// Open loads the parameter file at path. A missing file yields the defaults;
// malformed JSON is an error.
func Open(path string) (*Store, error) {
	s := &Store{path: path, file: File{Global: Defaults(), Episodes: map[string]Pair{}}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the parameter file, replacing the in-memory state.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	file, err := decode(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.file = file
	s.mu.Unlock()
	return nil
}

// decode overlays the document on the defaults so keys missing from the file
// keep their built-in values.
func decode(data []byte) (File, error) {
	var raw struct {
		Global   json.RawMessage            `json:"global"`
		Episodes map[string]json.RawMessage `json:"episodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return File{}, err
	}

	file := File{Global: Defaults(), Episodes: make(map[string]Pair, len(raw.Episodes))}
	if len(raw.Global) > 0 {
		if err := json.Unmarshal(raw.Global, &file.Global); err != nil {
			return File{}, fmt.Errorf("global: %w", err)
		}
	}
	for episode, msg := range raw.Episodes {
		pair := Defaults()
		if err := json.Unmarshal(msg, &pair); err != nil {
			return File{}, fmt.Errorf("episode %s: %w", episode, err)
		}
		file.Episodes[episode] = pair
	}
	return file, nil
}

// Global returns the project-wide parameter sets.
func (s *Store) Global() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Global
}

// Episode returns the override stored for episode, if any.
func (s *Store) Episode(episode string) (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.file.Episodes[episode]
	return p, ok
}

// Episodes returns the ids that carry an override, sorted.
func (s *Store) Episodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.file.Episodes))
	for id := range s.file.Episodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the parameters an encode of episode should use. An episode
// without an override, or whose override equals the built-in defaults, uses
// the global set.
func (s *Store) Resolve(episode string, hardsub bool) EncodeParams {
	s.mu.RLock()
	defer s.mu.RUnlock()

	global := s.file.Global.Get(hardsub)
	override, ok := s.file.Episodes[episode]
	if !ok {
		return global
	}
	ep := override.Get(hardsub)
	if ep.Equal(Defaults().Get(hardsub)) {
		return global
	}
	return ep
}

// SetGlobal replaces one global parameter set and saves.
func (s *Store) SetGlobal(hardsub bool, p EncodeParams) error {
	s.mu.Lock()
	s.file.Global = s.file.Global.With(hardsub, p)
	s.mu.Unlock()
	return s.Save()
}

// ResetGlobal restores one global parameter set to the defaults and saves.
func (s *Store) ResetGlobal(hardsub bool) error {
	return s.SetGlobal(hardsub, Defaults().Get(hardsub))
}

// SetEpisode stores an override for episode. When the override matches the
// global sets the override is removed instead. The returned bool reports
// whether an override is now stored.
func (s *Store) SetEpisode(episode string, p Pair) (bool, error) {
	s.mu.Lock()
	global := s.file.Global
	stored := !(p.Normal.Equal(global.Normal) && p.Hardsub.Equal(global.Hardsub))
	if stored {
		s.file.Episodes[episode] = p
	} else {
		delete(s.file.Episodes, episode)
	}
	s.mu.Unlock()
	return stored, s.Save()
}

// ResetEpisode drops the override for episode, if any.
func (s *Store) ResetEpisode(episode string) error {
	s.mu.Lock()
	_, ok := s.file.Episodes[episode]
	delete(s.file.Episodes, episode)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Save()
}

// Save writes the document atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.file, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	return writeAtomic(s.path, append(data, '\n'))
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".params-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
