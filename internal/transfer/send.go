// Package transfer performs the body of one transfer on a connection it owns:
// sending the served file, streaming the served directory as an archive, or
// accepting one upload.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/sheerbytes/once/internal/archive"
	"github.com/sheerbytes/once/internal/bufpool"
	"github.com/sheerbytes/once/internal/progress"
	"github.com/sheerbytes/once/internal/wire"
	"github.com/sheerbytes/once/pkg/manifest"
)

const (
	// milestoneStep is the percentage between operator progress lines.
	milestoneStep = 10
)

// FileJob sends one regular file.
type FileJob struct {
	Path        string
	Name        string // attachment filename
	ContentType string
	HeadOnly    bool
	Logger      *slog.Logger
}

// ArchiveJob streams one directory as an archive.
type ArchiveJob struct {
	Dir         string
	Name        string // attachment filename, extension included
	Compression archive.Compression
	HeadOnly    bool
	Logger      *slog.Logger
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}

func milestoneLogger(logger *slog.Logger, total int64) *progress.Milestones {
	return progress.NewMilestones(total, milestoneStep, func(m progress.Milestone) {
		if m.Percent >= 0 {
			logger.Info("transfer progress", "percent", m.Percent, "bytes", m.Done, "total", m.Total)
			return
		}
		logger.Info("transfer progress", "bytes", m.Done)
	})
}

// SendFile writes the response for the file in job to w and returns the
// number of body bytes written. The file is re-opened per request so a
// target that vanished after startup fails this transfer only.
func SendFile(ctx context.Context, w io.Writer, job FileJob) (int64, error) {
	logger := loggerOr(job.Logger)
	f, err := os.Open(job.Path)
	if err != nil {
		_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusNotFound, "The shared file is no longer available."))
		return 0, fmt.Errorf("open %s: %w", job.Path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", job.Path, err)
	}
	size := st.Size()

	var sent int64
	resp := wire.Response{
		Status:        http.StatusOK,
		ContentType:   job.ContentType,
		ContentLength: size,
		Header:        map[string]string{"Content-Disposition": wire.AttachmentDisposition(job.Name)},
		HeadOnly:      job.HeadOnly,
		Stream: func(out io.Writer) error {
			milestones := milestoneLogger(logger, size)
			bp := bufpool.Chunks.Get()
			defer bufpool.Chunks.Put(bp)
			buf := *bp
			for sent < size {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, rerr := f.Read(buf)
				if n > 0 {
					if _, err := out.Write(buf[:n]); err != nil {
						return fmt.Errorf("send %s: %w", job.Name, err)
					}
					sent += int64(n)
					milestones.Add(int64(n))
				}
				if errors.Is(rerr, io.EOF) {
					break
				}
				if rerr != nil {
					return fmt.Errorf("read %s: %w", job.Path, rerr)
				}
			}
			if sent != size {
				return fmt.Errorf("send %s: file changed size, sent %d of %d bytes", job.Name, sent, size)
			}
			return nil
		},
	}
	if err := wire.WriteResponse(w, resp); err != nil {
		return sent, err
	}
	return sent, nil
}

// SendArchive writes a streamed archive response for the directory in job.
// No Content-Length is sent; the end of the body is the connection close.
func SendArchive(ctx context.Context, w io.Writer, job ArchiveJob) (int64, error) {
	logger := loggerOr(job.Logger)
	resp := wire.Response{
		Status:        http.StatusOK,
		ContentType:   job.Compression.ContentType(),
		ContentLength: -1,
		Header:        map[string]string{"Content-Disposition": wire.AttachmentDisposition(job.Name)},
		HeadOnly:      job.HeadOnly,
	}
	if job.HeadOnly {
		return 0, wire.WriteResponse(w, resp)
	}

	m, err := manifest.Scan(job.Dir)
	if err != nil {
		if m.Root == "" {
			_ = wire.WriteResponse(w, wire.ErrorPage(http.StatusNotFound, "The shared directory is no longer available."))
			return 0, fmt.Errorf("scan %s: %w", job.Dir, err)
		}
		logger.Warn("some entries will be missing from the archive", "error", err)
	}
	logger.Info("archiving", "files", m.FileCount, "folders", m.FolderCount, "bytes", m.TotalBytes, "compression", job.Compression.String())

	counter := &countingWriter{}
	milestones := milestoneLogger(logger, m.TotalBytes)
	resp.Stream = func(out io.Writer) error {
		counter.w = out
		return archive.Write(ctx, counter, m, archive.Options{
			Compression: job.Compression,
			OnProgress:  milestones.Add,
			Logger:      logger,
		})
	}
	err = wire.WriteResponse(w, resp)
	return counter.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
