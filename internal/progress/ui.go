package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DownloadView is what a renderer shows for a single download.
type DownloadView struct {
	Name  string
	Stats Stats
}

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

// IsTTY reports whether w is a character device, or writes to one.
func IsTTY(w io.Writer) bool {
	var f *os.File
	switch v := w.(type) {
	case *os.File:
		f = v
	case interface{ File() *os.File }:
		f = v.File()
	}
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// RenderDownload starts a progress display on w and returns a stop function
// that draws the final state. On a terminal the display is a bubbletea
// program; elsewhere nothing is drawn until stop, and callers feed a
// LineReporter instead.
func RenderDownload(ctx context.Context, w io.Writer, view func() DownloadView) func() {
	if IsTTY(w) {
		return renderDownloadTea(ctx, w, view)
	}
	return func() {
		fmt.Fprintln(w, formatSummaryLine(view()))
	}
}

// LineReporter writes one plain line per milestone, for logs and pipes.
func LineReporter(w io.Writer, name string) func(Milestone) {
	return func(m Milestone) {
		if m.Percent >= 0 {
			fmt.Fprintf(w, "%s: %3d%% (%s/%s)\n", name, m.Percent, formatBytes(m.Done), formatBytes(m.Total))
			return
		}
		fmt.Fprintf(w, "%s: %s\n", name, formatBytes(m.Done))
	}
}

func formatDownloadLine(v DownloadView, color bool) string {
	s := v.Stats
	if s.Total <= 0 {
		return colorize(fmt.Sprintf("%s  %s  %s", v.Name, formatBytes(s.BytesDone), formatRate(s.RateBps)), colorGreen, color)
	}
	bar := renderBar(s.Percent, 24)
	return colorize(fmt.Sprintf("%s %5.1f%%  %s  ETA %s  (%s/%s)",
		bar,
		s.Percent,
		formatRate(s.RateBps),
		formatETA(s.ETA),
		formatBytes(s.BytesDone),
		formatBytes(s.Total),
	), colorGreen, color)
}

func formatSummaryLine(v DownloadView) string {
	return fmt.Sprintf("%s: %s in %s (%s)",
		v.Name,
		formatBytes(v.Stats.BytesDone),
		formatElapsed(v.Stats.Elapsed),
		formatRate(AverageBps(v.Stats.BytesDone, v.Stats.Elapsed)),
	)
}

func renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int((percent / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// FormatRate renders a byte rate with binary units.
func FormatRate(bps float64) string {
	return formatRate(bps)
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case bps >= g:
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	case bps >= m:
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	case bps >= k:
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(n int64) string {
	return formatBytes(n)
}

func formatBytes(n int64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case n < 0:
		return "?"
	case n >= g:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(g))
	case n >= m:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(m))
	case n >= k:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(k))
	}
	return fmt.Sprintf("%d B", n)
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
