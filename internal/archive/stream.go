// Package archive turns a directory into a tar or zip stream written
// incrementally to any io.Writer.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/sheerbytes/once/internal/bufpool"
	"github.com/sheerbytes/once/pkg/manifest"
)

// Options tunes a single Write call.
type Options struct {
	Compression Compression
	// OnProgress receives the number of source bytes consumed after each chunk.
	OnProgress func(n int64)
	// Logger receives warnings about entries that had to be skipped.
	Logger *slog.Logger
}

// Write encodes the files of m in manifest order. Compression happens while
// writing; nothing is buffered beyond the compressor's own window.
func Write(ctx context.Context, w io.Writer, m manifest.Manifest, opts Options) error {
	bp := bufpool.Copies.Get()
	defer bufpool.Copies.Put(bp)
	buf := *bp
	if opts.Compression == Zip {
		return writeZip(ctx, w, m, buf, opts.OnProgress)
	}

	cw, err := newCompressor(w, m.Root, opts.Compression)
	if err != nil {
		return err
	}
	if err := writeTar(ctx, cw, m, buf, opts.OnProgress); err != nil {
		_ = cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("finish %s stream: %w", opts.Compression, err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, root string, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		zw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("create gzip writer: %w", err)
		}
		zw.Name = root + ".tar"
		zw.ModTime = time.Now()
		return zw, nil
	case Bzip2:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("create bzip2 writer: %w", err)
		}
		return bw, nil
	}
	return nil, fmt.Errorf("compression %s has no tar compressor", c)
}

func writeTar(ctx context.Context, w io.Writer, m manifest.Manifest, buf []byte, onProgress func(int64)) error {
	tw := tar.NewWriter(w)
	for _, item := range m.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addTarEntry(ctx, tw, item, buf, onProgress); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}
	return nil
}

func addTarEntry(ctx context.Context, tw *tar.Writer, item manifest.FileItem, buf []byte, onProgress func(int64)) error {
	f, err := os.Open(item.AbsPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", item.RelPath, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", item.RelPath, err)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     item.RelPath,
		Size:     st.Size(),
		Mode:     int64(st.Mode().Perm()),
		ModTime:  st.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", item.RelPath, err)
	}
	return copyEntry(ctx, tw, f, st.Size(), item.RelPath, buf, onProgress)
}

func writeZip(ctx context.Context, w io.Writer, m manifest.Manifest, buf []byte, onProgress func(int64)) error {
	zw := zip.NewWriter(w)
	for _, item := range m.Items {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		if err := addZipEntry(ctx, zw, item, buf, onProgress); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip stream: %w", err)
	}
	return nil
}

func addZipEntry(ctx context.Context, zw *zip.Writer, item manifest.FileItem, buf []byte, onProgress func(int64)) error {
	f, err := os.Open(item.AbsPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", item.RelPath, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", item.RelPath, err)
	}

	hdr := &zip.FileHeader{
		Name:     item.RelPath,
		Method:   zip.Deflate,
		Modified: st.ModTime(),
	}
	hdr.SetMode(st.Mode().Perm())
	ew, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("write zip header for %s: %w", item.RelPath, err)
	}
	return copyEntry(ctx, ew, f, st.Size(), item.RelPath, buf, onProgress)
}

// copyEntry copies exactly size bytes of r, checking ctx between chunks.
func copyEntry(ctx context.Context, w io.Writer, r io.Reader, size int64, name string, buf []byte, onProgress func(int64)) error {
	var written int64
	lr := io.LimitReader(r, size)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := lr.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", name, rerr)
		}
	}
	if written != size {
		return fmt.Errorf("read %s: file shrank from %d to %d bytes while archiving", name, size, written)
	}
	return nil
}
