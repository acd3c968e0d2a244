// Package clienthttp downloads a single resource the way a browser would,
// saving it under a name that never replaces an existing file.
package clienthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/sheerbytes/once/internal/bufpool"
	"github.com/sheerbytes/once/internal/naming"
	"github.com/sheerbytes/once/internal/progress"
)

// DefaultName is used when neither the response nor the URL suggests one.
const DefaultName = "download"

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("only http and https URLs are supported")

// Options tunes a Fetch.
type Options struct {
	// OutDir is where the file is created. Defaults to the working directory.
	OutDir string
	// Confirm is offered the suggested filename and returns the one to use.
	// An empty answer keeps the suggestion.
	Confirm func(suggested string) (string, error)
	// Progress receives the bytes written so far and the expected total,
	// which is negative when the server did not announce a length.
	Progress func(done, total int64)
	// Client defaults to a client without an overall timeout.
	Client *http.Client
}

// Result describes a finished download.
type Result struct {
	Path    string
	Bytes   int64
	Elapsed time.Duration
	RateBps float64
}

type metadata struct {
	url  *url.URL // after redirects
	name string
	size int64
}

// Fetch downloads rawURL into a new file. A partially written file is
// removed when the download fails.
func Fetch(ctx context.Context, rawURL string, opts Options) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "."
	}

	meta, err := lookup(ctx, client, u)
	if err != nil {
		return Result{}, err
	}
	name := naming.Sanitize(meta.name)
	if opts.Confirm != nil {
		answer, err := opts.Confirm(name)
		if err != nil {
			return Result{}, fmt.Errorf("confirm filename: %w", err)
		}
		if answer != "" {
			name = naming.Sanitize(answer)
		}
	}

	f, dest, err := naming.CreateExclusive(outDir, name)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	n, err := download(ctx, client, meta.url, f, meta.size, opts.Progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", dest, cerr)
	}
	if err != nil {
		_ = os.Remove(dest)
		return Result{}, err
	}
	elapsed := time.Since(start)
	return Result{
		Path:    dest,
		Bytes:   n,
		Elapsed: elapsed,
		RateBps: progress.AverageBps(n, elapsed),
	}, nil
}

// lookup learns the final URL, the suggested name and the size. Servers that
// reject HEAD are asked with a GET whose body is dropped.
func lookup(ctx context.Context, client *http.Client, u *url.URL) (metadata, error) {
	resp, err := request(ctx, client, http.MethodHead, u)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = request(ctx, client, http.MethodGet, u)
	}
	if err != nil {
		return metadata{}, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return metadata{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	final := resp.Request.URL
	return metadata{
		url:  final,
		name: suggestName(resp.Header.Get("Content-Disposition"), final),
		size: resp.ContentLength,
	}, nil
}

func request(ctx context.Context, client *http.Client, method string, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}
	return resp, nil
}

func suggestName(disposition string, u *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return DefaultName
	}
	return base
}

// download streams the body into w. expected is the size from the lookup, used for
// progress when the GET itself carries no length.
func download(ctx context.Context, client *http.Client, u *url.URL, w io.Writer, expected int64, onProgress func(done, total int64)) (int64, error) {
	resp, err := request(ctx, client, http.MethodGet, u)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = expected
	}
	var done int64
	bp := bufpool.Copies.Get()
	defer bufpool.Copies.Put(bp)
	buf := *bp
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return done, fmt.Errorf("write: %w", err)
			}
			done += int64(n)
			if onProgress != nil {
				onProgress(done, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return done, fmt.Errorf("read body after %d bytes: %w", done, rerr)
		}
	}
	if resp.ContentLength >= 0 && done != resp.ContentLength {
		return done, fmt.Errorf("body ended after %d of %d bytes: %w", done, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	return done, nil
}
