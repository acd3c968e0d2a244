package manifest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}

func TestScan_SimpleTree(t *testing.T) {
	// share/
	//   a.txt (10 bytes)
	//   b/
	//     c.txt (5 bytes)
	root := filepath.Join(t.TempDir(), "share")
	writeFile(t, filepath.Join(root, "a.txt"), "0123456789")
	writeFile(t, filepath.Join(root, "b", "c.txt"), "01234")

	manifest, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if manifest.Root != "share" {
		t.Errorf("Root = %s, want share", manifest.Root)
	}
	if manifest.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", manifest.FileCount)
	}
	if manifest.FolderCount != 1 {
		t.Errorf("FolderCount = %d, want 1", manifest.FolderCount)
	}
	if manifest.TotalBytes != 15 {
		t.Errorf("TotalBytes = %d, want 15", manifest.TotalBytes)
	}

	expected := []FileItem{
		{RelPath: "share/a.txt", Size: 10},
		{RelPath: "share/b/c.txt", Size: 5},
	}
	if len(manifest.Items) != len(expected) {
		t.Fatalf("Items length = %d, want %d", len(manifest.Items), len(expected))
	}
	for i, item := range manifest.Items {
		if item.RelPath != expected[i].RelPath {
			t.Errorf("Items[%d].RelPath = %s, want %s", i, item.RelPath, expected[i].RelPath)
		}
		if item.Size != expected[i].Size {
			t.Errorf("Items[%d].Size = %d, want %d", i, item.Size, expected[i].Size)
		}
		if !filepath.IsAbs(item.AbsPath) {
			t.Errorf("Items[%d].AbsPath = %s, want absolute", i, item.AbsPath)
		}
	}
}

func TestScan_DepthFirstNameOrder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree")
	// Created out of order on purpose.
	for _, rel := range []string{"z.txt", "m/2.txt", "a.txt", "m/1.txt", "m/sub/x.txt", "b.txt"} {
		writeFile(t, filepath.Join(root, filepath.FromSlash(rel)), rel)
	}

	manifest, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	expectedOrder := []string{
		"tree/a.txt",
		"tree/b.txt",
		"tree/m/1.txt",
		"tree/m/2.txt",
		"tree/m/sub/x.txt",
		"tree/z.txt",
	}
	if len(manifest.Items) != len(expectedOrder) {
		t.Fatalf("Items length = %d, want %d", len(manifest.Items), len(expectedOrder))
	}
	for i, item := range manifest.Items {
		if item.RelPath != expectedOrder[i] {
			t.Errorf("Items[%d].RelPath = %s, want %s", i, item.RelPath, expectedOrder[i])
		}
	}

	again, err := Scan(root)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	for i := range again.Items {
		if again.Items[i].RelPath != manifest.Items[i].RelPath {
			t.Fatalf("walk order is not stable at %d: %s vs %s", i, again.Items[i].RelPath, manifest.Items[i].RelPath)
		}
	}
}

func TestScan_EmptyDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "empty")
	if err := os.MkdirAll(filepath.Join(root, "only-dirs", "deeper"), 0755); err != nil {
		t.Fatalf("failed to create dirs: %v", err)
	}

	manifest, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(manifest.Items) != 0 {
		t.Errorf("Items length = %d, want 0", len(manifest.Items))
	}
	if manifest.FolderCount != 2 {
		t.Errorf("FolderCount = %d, want 2", manifest.FolderCount)
	}
	if manifest.TotalBytes != 0 {
		t.Errorf("TotalBytes = %d, want 0", manifest.TotalBytes)
	}
}

func TestScan_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, path, "# hi")

	manifest, err := Scan(path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(manifest.Items) != 1 || manifest.Items[0].RelPath != "notes.md" {
		t.Fatalf("Items = %+v, want single notes.md", manifest.Items)
	}
	if manifest.TotalBytes != 4 {
		t.Errorf("TotalBytes = %d, want 4", manifest.TotalBytes)
	}
}

func TestScan_NonExistentPath(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("Scan() expected error for non-existent path, got nil")
	}
	if err.Error()[:4] != "path" {
		t.Errorf("Scan() error = %v, want error about path not existing", err)
	}
}

func TestScan_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	root := filepath.Join(base, "links")
	writeFile(t, filepath.Join(root, "real.txt"), "real")
	writeFile(t, filepath.Join(base, "outside", "o.txt"), "outside")
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "alias.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(base, "outside"), filepath.Join(root, "dirlink")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	manifest, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	got := make([]string, 0, len(manifest.Items))
	for _, item := range manifest.Items {
		got = append(got, item.RelPath)
	}
	want := []string{"links/alias.txt", "links/real.txt"}
	if len(got) != len(want) {
		t.Fatalf("Items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Items[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRootName(t *testing.T) {
	tests := []struct {
		path     string
		want     string
		unixOnly bool
	}{
		{"/srv/data", "data", false},
		{"/srv/data/", "data", false},
		{"/tmp/photos/a.jpg", "a.jpg", false},
		{".", "root", false},
		{"", "root", false},
		{"/", "root", true},
		{"//", "root", true},
	}
	for _, tt := range tests {
		if tt.unixOnly && runtime.GOOS == "windows" {
			continue
		}
		if got := RootName(tt.path); got != tt.want {
			t.Errorf("RootName(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}
