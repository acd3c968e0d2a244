// Package fetch implements "once fetch": download one URL into a file that
// never replaces an existing one.
package fetch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sheerbytes/once/internal/clienthttp"
	"github.com/sheerbytes/once/internal/config"
	"github.com/sheerbytes/once/internal/logging"
	"github.com/sheerbytes/once/internal/progress"
	"github.com/sheerbytes/once/internal/termio"
)

type streams struct {
	in          io.Reader
	out         io.Writer
	err         io.Writer
	interactive bool // in is a terminal the user can answer on
}

// Run executes the command and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := run(ctx, args, streams{
		in:          os.Stdin,
		out:         termio.Stdout(),
		err:         termio.Stderr(),
		interactive: isTerminal(os.Stdin),
	})
	termio.Flush()
	return code
}

func run(ctx context.Context, args []string, s streams) int {
	if hasHelpFlag(args) {
		printFetchUsage(s.out)
		return 0
	}
	fs := flag.NewFlagSet("once fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := config.ParseFetchConfig(fs, args)
	if err != nil {
		fmt.Fprintf(s.err, "once fetch: %v\n", err)
		printFetchUsage(s.err)
		return 2
	}
	logger := logging.New("once-fetch", logging.Level(cfg.LogLevel, cfg.Quiet), s.err)

	name := clienthttp.DefaultName
	opts := clienthttp.Options{
		OutDir: cfg.OutDir,
		Confirm: func(suggested string) (string, error) {
			name = suggested
			if cfg.Yes || !s.interactive {
				return "", nil
			}
			answer, err := termio.Prompt(s.in, s.err, "Save as", suggested)
			if err != nil {
				return "", err
			}
			name = answer
			return answer, nil
		},
	}
	var view *display
	if !cfg.Quiet {
		view = newDisplay(ctx, s.out, func() string { return name })
		opts.Progress = view.update
	}

	logger.Debug("fetching", "url", cfg.URL, "out_dir", cfg.OutDir)
	res, err := clienthttp.Fetch(ctx, cfg.URL, opts)
	view.stop()
	if err != nil {
		if errors.Is(err, clienthttp.ErrUnsupportedScheme) {
			fmt.Fprintf(s.err, "once fetch: %v\n", err)
			return 2
		}
		logger.Error("download failed", "url", cfg.URL, "error", err)
		return 1
	}
	logger.Info("download complete", "path", res.Path, "bytes", res.Bytes, "elapsed", res.Elapsed.String())
	if !cfg.Quiet {
		fmt.Fprintf(s.out, "Saved %s: %s in %s (%s)\n", res.Path,
			progress.FormatBytes(res.Bytes), res.Elapsed.Round(time.Millisecond), progress.FormatRate(res.RateBps))
	}
	return 0
}

// display drives either the terminal renderer or plain milestone lines. The
// total is only known once the first bytes arrive, so both start lazily.
type display struct {
	ctx  context.Context
	w    io.Writer
	name func() string
	tty  bool

	mu         sync.Mutex
	meter      *progress.Meter
	milestones *progress.Milestones
	stopRender func()
}

func newDisplay(ctx context.Context, w io.Writer, name func() string) *display {
	return &display{ctx: ctx, w: w, name: name, tty: progress.IsTTY(w)}
}

func (d *display) update(done, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tty {
		if d.meter == nil {
			d.meter = progress.NewMeter()
			d.meter.Start(total)
			d.stopRender = progress.RenderDownload(d.ctx, d.w, func() progress.DownloadView {
				return progress.DownloadView{Name: d.name(), Stats: d.meter.Snapshot()}
			})
		}
		d.meter.Update(done, total)
		return
	}
	if d.milestones == nil {
		d.milestones = progress.NewMilestones(total, 10, progress.LineReporter(d.w, d.name()))
	}
	d.milestones.Set(done)
}

func (d *display) stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	stop := d.stopRender
	d.stopRender = nil
	d.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func printFetchUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: once fetch [flags] <url>")
	fmt.Fprintln(w, "  --out DIR            directory to save into (default .)")
	fmt.Fprintln(w, "  --yes                keep the suggested filename without asking")
	fmt.Fprintln(w, "  --quiet              no progress output")
	fmt.Fprintln(w, "  --log-level LEVEL    debug, info, warn, error (default info)")
	fmt.Fprintf(w, "  --config FILE        YAML config file (default %s)\n", config.DefaultConfigPath())
	fmt.Fprintln(w, "environment: ONCE_CONFIG ONCE_OUT_DIR ONCE_QUIET ONCE_LOG_LEVEL")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "-help" {
			return true
		}
	}
	return false
}
