package revision

import (
	"sort"
	"strings"
)

// BuildTree turns a flat list of slash-separated paths into a nested tree.
// At every level directories sort before files, then lexicographically by
// name. Revisions and working copies share this so the tree contract is
// uniform for both.
func BuildTree(paths []string) []*TreeNode {
	root := &TreeNode{Dir: true}
	index := map[string]*TreeNode{"": root}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, p := range sorted {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		parts := strings.Split(p, "/")
		prefix := ""
		for i, part := range parts {
			childPath := part
			if prefix != "" {
				childPath = prefix + "/" + part
			}
			if _, ok := index[childPath]; !ok {
				node := &TreeNode{
					Name: part,
					Path: childPath,
					Dir:  i < len(parts)-1,
				}
				parent := index[prefix]
				parent.Children = append(parent.Children, node)
				index[childPath] = node
			}
			prefix = childPath
		}
	}

	sortTree(root)
	return root.Children
}

// sortTree orders children directories-first then by name, recursively.
func sortTree(n *TreeNode) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Dir != b.Dir {
			return a.Dir
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}
