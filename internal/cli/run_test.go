package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadSourceTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contracts/wallet.tolk", "fun onInternalMessage() {}\n")
	writeFile(t, dir, "README.md", "# wallet\n")
	writeFile(t, dir, ".env", "SECRET=1\n")
	writeFile(t, dir, ".git/config", "[core]\n")

	files, err := readSourceTree(dir)
	if err != nil {
		t.Fatalf("readSourceTree() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (dotfiles skipped): %v", len(files), keys(files))
	}
	if files["contracts/wallet.tolk"] != "fun onInternalMessage() {}\n" {
		t.Errorf("content = %q", files["contracts/wallet.tolk"])
	}
	if _, ok := files[".env"]; ok {
		t.Error("dotfile was not skipped")
	}
}

func TestReadSourceTree_Empty(t *testing.T) {
	if _, err := readSourceTree(t.TempDir()); err == nil {
		t.Error("readSourceTree() of empty dir succeeded, want error")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
