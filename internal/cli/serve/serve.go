// Package serve implements "once serve": share one file, directory or upload
// form for a fixed number of downloads, then exit.
package serve

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/sheerbytes/once/internal/announce"
	"github.com/sheerbytes/once/internal/config"
	"github.com/sheerbytes/once/internal/logging"
	"github.com/sheerbytes/once/internal/progress"
	"github.com/sheerbytes/once/internal/server"
	"github.com/sheerbytes/once/internal/termio"
)

// Run executes the command and returns the process exit code: 0 on success,
// 2 for usage and startup errors, 1 when serving fails.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := run(ctx, args, termio.Stdout(), termio.Stderr(), nil)
	termio.Flush()
	return code
}

// run is Run with injectable output. ready, when set, receives the announced
// URL once the listener is open.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready func(url string)) int {
	if hasHelpFlag(args) {
		printServeUsage(stdout)
		return 0
	}
	fs := flag.NewFlagSet("once serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := config.ParseServeConfig(fs, args)
	if err != nil {
		fmt.Fprintf(stderr, "once serve: %v\n", err)
		printServeUsage(stderr)
		return 2
	}
	logger := logging.New("once-serve", logging.Level(cfg.LogLevel, cfg.Quiet), stderr)

	opts := server.Options{
		Upload:       cfg.Upload,
		UploadDir:    cfg.UploadDir,
		MaxDownloads: cfg.MaxDownloads,
		Addr:         net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
	}
	headline := ""
	urlPath := "/"
	if cfg.Upload {
		if err := checkDir(cfg.UploadDir); err != nil {
			fmt.Fprintf(stderr, "once serve: %v\n", err)
			return 2
		}
		headline = fmt.Sprintf("Upload form, storing into %s:", cfg.UploadDir)
	} else {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			fmt.Fprintf(stderr, "once serve: %v\n", err)
			return 2
		}
		target, err := server.ResolveTarget(abs, cfg.Format)
		if err != nil {
			fmt.Fprintf(stderr, "once serve: %v\n", err)
			return 2
		}
		opts.Target = &target
		urlPath = target.CanonicalPath()
		headline = fmt.Sprintf("Serving %s %s", target.Kind, target.Filename())
		if target.Kind == server.KindFile {
			headline += " (" + progress.FormatBytes(target.Size) + ")"
		}
		headline += fmt.Sprintf(" for %s:", plural(cfg.MaxDownloads, "download"))
	}

	srv, err := server.New(opts, logger)
	if err != nil {
		fmt.Fprintf(stderr, "once serve: %v\n", err)
		return 2
	}
	ln, err := srv.Listen()
	if err != nil {
		logger.Error("listen failed", "error", err)
		return 1
	}

	port := cfg.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	url := announce.URL(announce.Host(cfg.Bind), port, urlPath)
	if !cfg.Quiet {
		announce.Print(stdout, headline, url, !cfg.NoQR && progress.IsTTY(stdout))
	}
	if ready != nil {
		ready(url)
	}

	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("serve failed", "error", err)
		return 1
	}
	if !cfg.Quiet {
		st := srv.Stats()
		fmt.Fprintf(stdout, "Done: %s (%d failed) after %s, %s\n",
			plural(st.Completed, "download"), st.Failed,
			st.Runtime.Round(time.Second), plural(st.Requests, "request"))
	}
	return 0
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("upload directory: %w", err)
	}
	if !info.IsDir() {
		return errors.New("upload directory: " + dir + " is not a directory")
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

func printServeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: once serve [flags] <file-or-directory>")
	fmt.Fprintln(w, "       once serve --upload [flags]")
	fmt.Fprintln(w, "  --count N            downloads before the server exits (default 1)")
	fmt.Fprintln(w, "  --bind HOST          address to listen on (default all interfaces)")
	fmt.Fprintln(w, "  --port N             port to listen on (default 8080)")
	fmt.Fprintln(w, "  --compression NAME   directory archive format: none, gzip, bzip2, zip (default gzip)")
	fmt.Fprintln(w, "  -U, --upload         serve an upload form instead of a file")
	fmt.Fprintln(w, "  --upload-dir DIR     where uploads are stored (default .)")
	fmt.Fprintln(w, "  --quiet              only log errors")
	fmt.Fprintln(w, "  --no-qr              do not print a QR code of the URL")
	fmt.Fprintln(w, "  --log-level LEVEL    debug, info, warn, error (default info)")
	fmt.Fprintf(w, "  --config FILE        YAML config file (default %s)\n", config.DefaultConfigPath())
	fmt.Fprintln(w, "environment: ONCE_CONFIG ONCE_BIND ONCE_PORT ONCE_MAX_DOWNLOADS")
	fmt.Fprintln(w, "             ONCE_COMPRESSION ONCE_UPLOAD_DIR ONCE_QUIET ONCE_LOG_LEVEL")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "-help" {
			return true
		}
	}
	return false
}
