package server

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sheerbytes/once/internal/archive"
	"github.com/sheerbytes/once/pkg/manifest"
)

var (
	// ErrTargetMissing means the path to serve does not exist.
	ErrTargetMissing = errors.New("target does not exist")
	// ErrTargetKind means the path is neither a regular file nor a directory.
	ErrTargetKind = errors.New("target must be a regular file or a directory")
)

// Kind is what a Target points at.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Target is the single resource a server exposes. It is fixed at startup.
type Target struct {
	Path        string // absolute
	Name        string // base name
	Kind        Kind
	Compression archive.Compression
	// Ext is the archive extension for directories and empty for files.
	Ext         string
	ContentType string
	Size        int64 // files only
}

// ResolveTarget checks that path names an existing regular file or directory
// and derives everything the server needs to expose it.
func ResolveTarget(path string, c archive.Compression) (Target, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Target{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Target{}, fmt.Errorf("%w: %s", ErrTargetMissing, abs)
		}
		return Target{}, fmt.Errorf("stat %s: %w", abs, err)
	}

	t := Target{Path: abs, Name: manifest.RootName(abs), Compression: c}
	switch {
	case st.Mode().IsRegular():
		t.Kind = KindFile
		t.Size = st.Size()
		t.ContentType = mime.TypeByExtension(filepath.Ext(abs))
		if t.ContentType == "" {
			t.ContentType = "application/octet-stream"
		}
	case st.IsDir():
		t.Kind = KindDirectory
		t.Ext = c.Extension()
		t.ContentType = c.ContentType()
	default:
		return Target{}, fmt.Errorf("%w: %s is %s", ErrTargetKind, abs, st.Mode().Type())
	}
	return t, nil
}

// Filename is the name offered to the client in Content-Disposition.
func (t Target) Filename() string {
	return t.Name + t.Ext
}

// CanonicalPath is the escaped request path of the resource, as sent in
// redirects.
func (t Target) CanonicalPath() string {
	return "/" + url.PathEscape(t.Name) + t.Ext
}

// matches reports whether a decoded request path names the resource.
func (t Target) matches(decodedPath string) bool {
	return decodedPath == "/"+t.Filename()
}
