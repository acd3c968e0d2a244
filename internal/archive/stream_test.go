package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sheerbytes/once/pkg/manifest"
)

type entry struct {
	name    string
	content string
}

// writeDir scans dir and archives it the way the server does.
func writeDir(ctx context.Context, w io.Writer, dir string, opts Options) error {
	m, err := manifest.Scan(dir)
	if err != nil {
		return err
	}
	return Write(ctx, w, m, opts)
}

// makeTree creates <tmp>/photos with a few nested files and returns its path.
func makeTree(t *testing.T) (string, []entry) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "photos")
	files := []entry{
		{"photos/a.txt", "alpha"},
		{"photos/big.bin", string(bytes.Repeat([]byte{0, 1, 2, 3, 250}, 40000))},
		{"photos/nested/deeper/c.txt", "gamma"},
		{"photos/nested/b.txt", "beta"},
		{"photos/z.txt", ""},
	}
	for _, f := range files {
		rel, _ := filepath.Rel("photos", filepath.FromSlash(f.name))
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			t.Fatalf("failed to create %s: %v", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "empty-dir"), 0755); err != nil {
		t.Fatalf("failed to create empty dir: %v", err)
	}
	// Walk order: depth-first, names in lexical order within each directory.
	want := []entry{files[0], files[1], files[3], files[2], files[4]}
	return root, want
}

func readTar(t *testing.T, r io.Reader) []entry {
	t.Helper()
	tr := tar.NewReader(r)
	var got []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar Next() error = %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			t.Fatalf("entry %s has type %c, want regular file", hdr.Name, hdr.Typeflag)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read %s: %v", hdr.Name, err)
		}
		got = append(got, entry{hdr.Name, string(data)})
	}
	return got
}

func readZip(t *testing.T, data []byte) []entry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var got []entry
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		got = append(got, entry{f.Name, string(content)})
	}
	return got
}

func compareEntries(t *testing.T, got, want []entry) {
	t.Helper()
	if len(got) != len(want) {
		names := make([]string, len(got))
		for i, e := range got {
			names[i] = e.name
		}
		t.Fatalf("archive has %d entries %v, want %d", len(got), names, len(want))
	}
	for i := range want {
		if got[i].name != want[i].name {
			t.Errorf("entry[%d] name = %s, want %s", i, got[i].name, want[i].name)
		}
		if got[i].content != want[i].content {
			t.Errorf("entry[%d] %s content differs (%d bytes, want %d)", i, want[i].name, len(got[i].content), len(want[i].content))
		}
	}
}

func TestStream_RoundTrip(t *testing.T) {
	root, want := makeTree(t)

	for _, c := range []Compression{None, Gzip, Bzip2, Zip} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			var progressed int64
			err := writeDir(context.Background(), &buf, root, Options{
				Compression: c,
				OnProgress:  func(n int64) { progressed += n },
			})
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			var got []entry
			switch c {
			case None:
				got = readTar(t, &buf)
			case Gzip:
				zr, err := gzip.NewReader(&buf)
				if err != nil {
					t.Fatalf("gzip.NewReader() error = %v", err)
				}
				if zr.Name != "photos.tar" {
					t.Errorf("gzip name = %q, want photos.tar", zr.Name)
				}
				got = readTar(t, zr)
			case Bzip2:
				got = readTar(t, bzip2.NewReader(&buf))
			case Zip:
				got = readZip(t, buf.Bytes())
			}
			compareEntries(t, got, want)

			var total int64
			for _, e := range want {
				total += int64(len(e.content))
			}
			if progressed != total {
				t.Errorf("progress reported %d bytes, want %d", progressed, total)
			}
		})
	}
}

func TestStream_EmptyDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nothing")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var buf bytes.Buffer
	if err := writeDir(context.Background(), &buf, root, Options{Compression: None}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := readTar(t, &buf); len(got) != 0 {
		t.Errorf("entries = %d, want 0", len(got))
	}
}

func TestStream_MissingDirectory(t *testing.T) {
	var buf bytes.Buffer
	err := writeDir(context.Background(), &buf, filepath.Join(t.TempDir(), "gone"), Options{})
	if err == nil {
		t.Fatal("Write() expected error for missing dir")
	}
}

func TestStream_Cancelled(t *testing.T) {
	root, _ := makeTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, c := range []Compression{None, Zip} {
		err := writeDir(ctx, io.Discard, root, Options{Compression: c})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("%s: Write() error = %v, want context.Canceled", c, err)
		}
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("broken pipe")
	}
	w.after -= len(p)
	return len(p), nil
}

func TestStream_WriterFailure(t *testing.T) {
	root, _ := makeTree(t)
	err := writeDir(context.Background(), &failingWriter{after: 1024}, root, Options{Compression: None})
	if err == nil {
		t.Fatal("Write() expected error from failing writer")
	}
}

func TestParseCompression(t *testing.T) {
	tests := map[string]Compression{
		"none": None, "tar": None,
		"gzip": Gzip, "GZ": Gzip, "": Gzip,
		"bzip2": Bzip2, "bz2": Bzip2,
		"zip": Zip,
	}
	for in, want := range tests {
		got, err := ParseCompression(in)
		if err != nil {
			t.Errorf("ParseCompression(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseCompression(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseCompression("rar"); err == nil {
		t.Error("ParseCompression(rar) expected error")
	}
}

func TestCompressionMetadata(t *testing.T) {
	tests := []struct {
		c           Compression
		ext         string
		contentType string
	}{
		{None, ".tar", "application/x-tar"},
		{Gzip, ".tar.gz", "application/gzip"},
		{Bzip2, ".tar.bz2", "application/x-bzip2"},
		{Zip, ".zip", "application/zip"},
	}
	for _, tt := range tests {
		if got := tt.c.Extension(); got != tt.ext {
			t.Errorf("%s.Extension() = %s, want %s", tt.c, got, tt.ext)
		}
		if got := tt.c.ContentType(); got != tt.contentType {
			t.Errorf("%s.ContentType() = %s, want %s", tt.c, got, tt.contentType)
		}
	}
}
