package revision

import "time"

// Revision is an immutable snapshot of a project's file tree. Once written
// its file set never changes; newer snapshots point back via ParentID.
type Revision struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	CreatedBy string            `json:"created_by,omitempty"`
	Files     map[string]string `json:"files"` // path -> sha256 content hash
}

// WorkingCopy is a mutable snapshot seeded from a base revision. At most one
// working copy is open per project at a time.
type WorkingCopy struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id"`
	BaseRevisionID string            `json:"base_revision_id"`
	CreatedAt      time.Time         `json:"created_at"`
	Files          map[string]string `json:"files"` // path -> content
}

// TreeNode is one entry in a nested directory/file tree. Directories carry
// children; files carry nothing beyond their name and path.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Dir      bool        `json:"dir"`
	Children []*TreeNode `json:"children,omitempty"`
}
