package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced synchronously to callers.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrLocked      = errors.New("locked")
)

// Store owns revisions, working copies, and the content-addressed blob set.
// Revisions are append-only; working copies are mutable until promoted or
// abandoned. All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	baseDir   string // "" disables disk persistence
	revisions map[string]*Revision
	copies    map[string]*WorkingCopy
	blobs     map[string]string // content hash -> content

	// openByProject enforces the at-most-one-writer policy.
	openByProject map[string]string // project id -> open working copy id
	// lockedProjects holds projects with an active audit run. All mutating
	// operations on a locked project are rejected with ErrLocked.
	lockedProjects map[string]bool
}

// NewStore creates a Store. When baseDir is non-empty, revisions and blobs
// are also written to disk as JSON artifacts under it.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:        baseDir,
		revisions:      make(map[string]*Revision),
		copies:         make(map[string]*WorkingCopy),
		blobs:          make(map[string]string),
		openByProject:  make(map[string]string),
		lockedProjects: make(map[string]bool),
	}
}

// Bootstrap creates an initial parentless revision for a project from a flat
// path -> content map. Used for project scaffolding and tests.
func (s *Store) Bootstrap(projectID string, files map[string]string) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := &Revision{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]string, len(files)),
	}
	for p, content := range files {
		np, err := normalizePath(p)
		if err != nil {
			return nil, err
		}
		rev.Files[np] = s.putBlob(content)
	}
	// Persist first: a revision that failed to reach disk must not become
	// visible in memory either.
	if err := s.persistRevision(rev); err != nil {
		return nil, err
	}
	s.revisions[rev.ID] = rev
	return cloneRevision(rev), nil
}

// GetRevision returns a revision by id.
func (s *Store) GetRevision(id string) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revisions[id]
	if !ok {
		return nil, fmt.Errorf("revision %s: %w", id, ErrNotFound)
	}
	return cloneRevision(rev), nil
}

// cloneRevision copies a revision so callers cannot mutate the stored
// snapshot through the shared Files map.
func cloneRevision(rev *Revision) *Revision {
	out := *rev
	out.Files = make(map[string]string, len(rev.Files))
	for p, h := range rev.Files {
		out.Files[p] = h
	}
	return &out
}

// GetWorkingCopy returns a working copy by id.
func (s *Store) GetWorkingCopy(id string) (*WorkingCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wc, ok := s.copies[id]
	if !ok {
		return nil, fmt.Errorf("working copy %s: %w", id, ErrNotFound)
	}
	return wc, nil
}

// CreateWorkingCopy opens a mutable working copy seeded from the given
// revision. Idempotent: if the project already has an open working copy
// based on the same revision, that copy is returned instead of a second
// one. A second writer on a different revision is rejected.
func (s *Store) CreateWorkingCopy(revisionID string) (*WorkingCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.revisions[revisionID]
	if !ok {
		return nil, fmt.Errorf("revision %s: %w", revisionID, ErrNotFound)
	}
	if err := s.checkProjectUnlocked(base.ProjectID); err != nil {
		return nil, err
	}

	if openID, ok := s.openByProject[base.ProjectID]; ok {
		wc := s.copies[openID]
		if wc.BaseRevisionID == revisionID {
			return wc, nil
		}
		return nil, fmt.Errorf("project %s already has an open working copy on another revision: %w", base.ProjectID, ErrLocked)
	}

	wc := &WorkingCopy{
		ID:             uuid.NewString(),
		ProjectID:      base.ProjectID,
		BaseRevisionID: revisionID,
		CreatedAt:      time.Now().UTC(),
		Files:          make(map[string]string, len(base.Files)),
	}
	for p, hash := range base.Files {
		wc.Files[p] = s.blobs[hash]
	}
	s.copies[wc.ID] = wc
	s.openByProject[base.ProjectID] = wc.ID
	return wc, nil
}

// WriteFile upserts a file in a working copy. Rejected with ErrLocked while
// the project has an active audit run.
func (s *Store) WriteFile(workingCopyID, filePath, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wc, ok := s.copies[workingCopyID]
	if !ok {
		return fmt.Errorf("working copy %s: %w", workingCopyID, ErrNotFound)
	}
	if err := s.checkProjectUnlocked(wc.ProjectID); err != nil {
		return err
	}
	np, err := normalizePath(filePath)
	if err != nil {
		return err
	}
	wc.Files[np] = content
	return nil
}

// RemoveFile deletes a file from a working copy. Same locking rules as
// WriteFile; removing a path that does not exist is ErrNotFound.
func (s *Store) RemoveFile(workingCopyID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wc, ok := s.copies[workingCopyID]
	if !ok {
		return fmt.Errorf("working copy %s: %w", workingCopyID, ErrNotFound)
	}
	if err := s.checkProjectUnlocked(wc.ProjectID); err != nil {
		return err
	}
	np, err := normalizePath(filePath)
	if err != nil {
		return err
	}
	if _, ok := wc.Files[np]; !ok {
		return fmt.Errorf("file %s: %w", np, ErrNotFound)
	}
	delete(wc.Files, np)
	return nil
}

// GetFile returns the content of a file, resolving the id first as a working
// copy and then as a revision.
func (s *Store) GetFile(id, filePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	np, err := normalizePath(filePath)
	if err != nil {
		return "", err
	}
	if wc, ok := s.copies[id]; ok {
		content, ok := wc.Files[np]
		if !ok {
			return "", fmt.Errorf("file %s: %w", np, ErrNotFound)
		}
		return content, nil
	}
	if rev, ok := s.revisions[id]; ok {
		hash, ok := rev.Files[np]
		if !ok {
			return "", fmt.Errorf("file %s: %w", np, ErrNotFound)
		}
		return s.blobs[hash], nil
	}
	return "", fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
}

// LockProject marks a project as having an active audit run. Fails with
// ErrLocked if already locked. This is the compare-and-swap half of the
// at-most-one-active-run policy; the orchestrator owns the other half.
func (s *Store) LockProject(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedProjects[projectID] {
		return fmt.Errorf("an audit is in progress for project %s: %w", projectID, ErrLocked)
	}
	s.lockedProjects[projectID] = true
	return nil
}

// UnlockProject releases a project's audit lock.
func (s *Store) UnlockProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockedProjects, projectID)
}

// PromoteToRevision snapshots a working copy into a new immutable revision
// whose parent is the copy's base revision, then discards the copy. byRun
// is set by the orchestrator, which promotes under its own project lock;
// anyone else promoting a locked project is rejected with ErrLocked.
func (s *Store) PromoteToRevision(workingCopyID string, byRun bool) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wc, ok := s.copies[workingCopyID]
	if !ok {
		return nil, fmt.Errorf("working copy %s: %w", workingCopyID, ErrNotFound)
	}
	if !byRun {
		if err := s.checkProjectUnlocked(wc.ProjectID); err != nil {
			return nil, err
		}
	}

	rev := &Revision{
		ID:        uuid.NewString(),
		ProjectID: wc.ProjectID,
		ParentID:  wc.BaseRevisionID,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]string, len(wc.Files)),
	}
	for p, content := range wc.Files {
		rev.Files[p] = s.putBlob(content)
	}
	// Persist first: on error the working copy survives and the new
	// revision never becomes visible, so the caller can retry.
	if err := s.persistRevision(rev); err != nil {
		return nil, err
	}
	s.revisions[rev.ID] = rev

	delete(s.copies, workingCopyID)
	if s.openByProject[wc.ProjectID] == workingCopyID {
		delete(s.openByProject, wc.ProjectID)
	}
	return cloneRevision(rev), nil
}

// Abandon discards a working copy without promoting it.
func (s *Store) Abandon(workingCopyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wc, ok := s.copies[workingCopyID]
	if !ok {
		return fmt.Errorf("working copy %s: %w", workingCopyID, ErrNotFound)
	}
	if err := s.checkProjectUnlocked(wc.ProjectID); err != nil {
		return err
	}
	delete(s.copies, workingCopyID)
	if s.openByProject[wc.ProjectID] == workingCopyID {
		delete(s.openByProject, wc.ProjectID)
	}
	return nil
}

// RevisionFiles returns the path -> content map for a revision.
func (s *Store) RevisionFiles(revisionID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev, ok := s.revisions[revisionID]
	if !ok {
		return nil, fmt.Errorf("revision %s: %w", revisionID, ErrNotFound)
	}
	files := make(map[string]string, len(rev.Files))
	for p, hash := range rev.Files {
		files[p] = s.blobs[hash]
	}
	return files, nil
}

// checkProjectUnlocked rejects mutations on projects with an active run.
// Caller holds s.mu.
func (s *Store) checkProjectUnlocked(projectID string) error {
	if s.lockedProjects[projectID] {
		return fmt.Errorf("an audit is in progress for project %s: %w", projectID, ErrLocked)
	}
	return nil
}

// putBlob stores content by hash and returns the hash. Caller holds s.mu.
func (s *Store) putBlob(content string) string {
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = content
		s.persistBlob(hash, content)
	}
	return hash
}

// normalizePath cleans a slash path and rejects traversal and empty results.
func normalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q contains a parent segment: %w", p, ErrInvalidPath)
		}
	}
	np := path.Clean("/" + p)
	np = strings.TrimPrefix(np, "/")
	if np == "" || np == "." {
		return "", fmt.Errorf("path %q normalizes to empty: %w", p, ErrInvalidPath)
	}
	return np, nil
}
