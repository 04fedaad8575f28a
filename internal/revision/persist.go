package revision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to a file atomically by writing to a temp file
// in the same directory, then renaming.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up temp file on any error path.
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = "" // prevent deferred removal
	return nil
}

// WriteJSON writes v as pretty-printed JSON to path atomically.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return WriteAtomic(path, data)
}

// ReadJSON reads a JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// persistRevision writes a revision manifest to disk when persistence is on.
// Revisions are immutable so an existing manifest is never rewritten.
func (s *Store) persistRevision(rev *Revision) error {
	if s.baseDir == "" {
		return nil
	}
	path := filepath.Join(s.baseDir, "revisions", rev.ID+".json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return WriteJSON(path, rev)
}

// persistBlob writes a content blob to the content-addressed blob dir.
// Best effort: the in-memory copy is authoritative within a process.
func (s *Store) persistBlob(hash, content string) {
	if s.baseDir == "" {
		return
	}
	path := filepath.Join(s.baseDir, "blobs", hash[:2], hash)
	if _, err := os.Stat(path); err == nil {
		return
	}
	_ = WriteAtomic(path, []byte(content))
}

// Load restores persisted revisions and blobs from disk. Working copies are
// deliberately not persisted; they die with the process.
func (s *Store) Load() error {
	if s.baseDir == "" {
		return nil
	}
	revDir := filepath.Join(s.baseDir, "revisions")
	entries, err := os.ReadDir(revDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", revDir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var rev Revision
		if err := ReadJSON(filepath.Join(revDir, entry.Name()), &rev); err != nil {
			continue // skip broken manifests
		}
		s.revisions[rev.ID] = &rev
		for _, hash := range rev.Files {
			if _, ok := s.blobs[hash]; ok {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.baseDir, "blobs", hash[:2], hash))
			if err != nil {
				continue
			}
			s.blobs[hash] = string(data)
		}
	}
	return nil
}
