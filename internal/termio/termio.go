// Package termio serializes operator-facing output through background
// writers and asks the occasional question on the terminal.
package termio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

type chunk struct {
	buf  []byte
	sync chan struct{} // closed once everything queued before it is written
}

type writer struct {
	file *os.File
	out  io.Writer
	ch   chan chunk
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- chunk{buf: buf}
	return len(p), nil
}

// File is the terminal behind the writer, nil for writers not backed by one.
func (w *writer) File() *os.File {
	return w.file
}

// Flush blocks until everything written so far has reached the output.
func (w *writer) Flush() {
	done := make(chan struct{})
	w.ch <- chunk{sync: done}
	<-done
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout, os.Stdout)
		global.stderr = newWriter(os.Stderr, os.Stderr)
	})
}

func newWriter(f *os.File, out io.Writer) *writer {
	w := &writer{
		file: f,
		out:  out,
		ch:   make(chan chunk, 1024),
	}
	go func() {
		for c := range w.ch {
			if c.sync != nil {
				close(c.sync)
				continue
			}
			_, _ = w.out.Write(c.buf)
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush drains both writers. Call it before the process exits.
func Flush() {
	Init()
	global.stdout.Flush()
	global.stderr.Flush()
}

// ErrNoAnswer is returned by Prompt when input ends before a line is read.
var ErrNoAnswer = errors.New("no answer")

// Prompt writes question with the default in brackets and reads one line
// from r. An empty line selects def.
func Prompt(r io.Reader, w io.Writer, question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w, "%s: ", question)
	}
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", ErrNoAnswer
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}
