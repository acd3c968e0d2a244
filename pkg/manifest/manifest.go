package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileItem is one regular file found under the scanned root.
type FileItem struct {
	RelPath string      // Archive path: root base name + "/" + relative path, forward slashes
	AbsPath string      // Where to read the content from
	Size    int64       // File size in bytes
	Mode    fs.FileMode // Permission bits, best effort
	ModTime time.Time
}

// Manifest is a snapshot of the regular files below a root.
type Manifest struct {
	Root        string     // Base name of the root path
	Items       []FileItem // Files only, in walk order
	TotalBytes  int64      // Sum of file sizes
	FileCount   int
	FolderCount int // Directories below the root, the root itself excluded
}

// Scan walks rootPath depth-first, visiting the entries of each directory in
// lexical order, and records every regular file. Directory entries are not
// recorded as items.
//
// Symlinks pointing at regular files are recorded with the target's size;
// symlinked directories are not descended into.
// Unreadable entries are skipped; they are reported as a joined error next to
// the partial manifest.
func Scan(rootPath string) (Manifest, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("path does not exist: %s", rootPath)
		}
		return Manifest{}, fmt.Errorf("cannot access path: %w", err)
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("cannot get absolute path: %w", err)
	}
	root := RootName(absRoot)

	manifest := Manifest{
		Root:  root,
		Items: make([]FileItem, 0),
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return Manifest{}, fmt.Errorf("not a regular file or directory: %s", rootPath)
		}
		manifest.add(FileItem{
			RelPath: root,
			AbsPath: absRoot,
			Size:    info.Size(),
			Mode:    info.Mode().Perm(),
			ModTime: info.ModTime(),
		})
		return manifest, nil
	}

	var scanErrors []error
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			relPath, relErr := filepath.Rel(absRoot, path)
			if relErr != nil {
				relPath = path
			}
			scanErrors = append(scanErrors, fmt.Errorf("cannot read %s: %w", relPath, err))
			if d == nil || !d.IsDir() {
				return nil
			}
			return fs.SkipDir
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("cannot compute relative path: %w", err)
		}
		if relPath == "." {
			return nil
		}
		archivePath := root + "/" + filepath.ToSlash(relPath)

		if d.IsDir() {
			manifest.FolderCount++
			return nil
		}

		var info fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			info, err = os.Stat(path)
		} else {
			info, err = d.Info()
		}
		if err != nil {
			scanErrors = append(scanErrors, fmt.Errorf("cannot get info for %s: %w", archivePath, err))
			return nil
		}
		if !info.Mode().IsRegular() {
			// devices, sockets, pipes and symlinked directories
			return nil
		}

		manifest.add(FileItem{
			RelPath: archivePath,
			AbsPath: path,
			Size:    info.Size(),
			Mode:    info.Mode().Perm(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("error walking directory: %w", err)
	}

	if len(scanErrors) > 0 {
		return manifest, fmt.Errorf("scan completed with %d error(s): %w", len(scanErrors), errors.Join(scanErrors...))
	}
	return manifest, nil
}

func (m *Manifest) add(item FileItem) {
	m.Items = append(m.Items, item)
	m.FileCount++
	m.TotalBytes += item.Size
}

// RootName returns the name a served path is published under: its base name,
// or a stand-in for paths without one.
func RootName(absPath string) string {
	root := filepath.Base(absPath)
	if root == "." || root == "/" || root == string(filepath.Separator) {
		return "root"
	}
	if vol := filepath.VolumeName(absPath); vol != "" && root == vol+string(filepath.Separator) {
		return "root"
	}
	return root
}
