// Package server runs the accept loop that exposes one resource for a bounded
// number of transfers and then stops.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/once/internal/transfer"
	"github.com/sheerbytes/once/internal/wire"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultHeadTimeout  = 2 * time.Second
)

// ErrNoAcceptDeadline is returned by Serve for listeners that cannot poll.
var ErrNoAcceptDeadline = errors.New("listener does not support accept deadlines")

// Phase is the lifecycle position of a server.
type Phase int

const (
	PhaseAccepting Phase = iota
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepting:
		return "accepting"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the controller's bookkeeping. Only the goroutine running Serve
// mutates it.
type State struct {
	MaxDownloads int
	Completed    int // slots consumed, including failed transfers
	Failed       int
	InFlight     int
	Requests     int // every accepted connection, redirects included
	Running      bool
	Phase        Phase
}

// Stats is a copy of State taken at some point during Serve.
type Stats struct {
	State
	Runtime time.Duration
}

// Options configures a Server. Exactly one of Target and Upload is set.
type Options struct {
	Target       *Target
	Upload       bool
	UploadDir    string
	MaxDownloads int
	Addr         string
	PollInterval time.Duration
	// HeadTimeout bounds reading a request head and writing an inline reply.
	// Both happen on the accept loop, so it is also the longest one silent
	// client can delay every other connection.
	HeadTimeout time.Duration
	Spawner     Spawner
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Server is the lifecycle controller.
type Server struct {
	opts        Options
	logger      *slog.Logger
	state       State
	handles     map[string]Handle
	completions chan Completion
	stopped     chan struct{}
	started     time.Time

	mu        sync.Mutex
	published State
	runtime   time.Duration
}

// New validates opts and returns a server ready to Serve.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if opts.MaxDownloads < 1 {
		return nil, fmt.Errorf("max downloads must be at least 1, got %d", opts.MaxDownloads)
	}
	if opts.Upload == (opts.Target != nil) {
		return nil, errors.New("server needs either a target or upload mode, not both")
	}
	if opts.Upload && opts.UploadDir == "" {
		opts.UploadDir = "."
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HeadTimeout <= 0 {
		opts.HeadTimeout = DefaultHeadTimeout
	}
	if opts.Spawner == nil {
		opts.Spawner = GoSpawner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		opts:        opts,
		logger:      logger,
		state:       State{MaxDownloads: opts.MaxDownloads},
		handles:     make(map[string]Handle),
		completions: make(chan Completion, opts.MaxDownloads),
		stopped:     make(chan struct{}),
	}
	s.published = s.state
	return s, nil
}

// Listen opens the TCP listener on the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return ln, nil
}

// Run listens and serves until the server stops.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln until the download limit is reached or
// ctx is cancelled, then waits for in-flight transfers and returns. ln is
// closed as soon as the server starts draining. Cancelling ctx does not
// abort transfers already in progress.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	dl, ok := ln.(deadlineListener)
	if !ok {
		_ = ln.Close()
		return ErrNoAcceptDeadline
	}
	workCtx := context.WithoutCancel(ctx)
	s.started = time.Now()
	s.state.Running = true
	s.state.Phase = PhaseAccepting
	s.publish()
	s.logger.Info("serving", "addr", ln.Addr().String(), "mode", s.mode(), "max_downloads", s.state.MaxDownloads)

	listening := true
	for {
		s.drainCompletions()
		s.reap()
		if s.state.Phase == PhaseAccepting && ctx.Err() != nil {
			s.beginDrain("interrupted")
		}
		if s.state.Phase == PhaseDraining {
			if listening {
				_ = ln.Close()
				listening = false
			}
			if s.state.InFlight == 0 && len(s.handles) == 0 {
				break
			}
			s.waitCompletion(s.opts.PollInterval)
			continue
		}

		_ = dl.SetDeadline(time.Now().Add(s.opts.PollInterval))
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
			case errors.Is(err, net.ErrClosed):
				listening = false
				s.beginDrain("listener closed")
			default:
				s.logger.Warn("accept failed", "error", err)
				time.Sleep(s.opts.PollInterval)
			}
			continue
		}
		s.handleConn(workCtx, conn)
	}

	s.finish()
	return nil
}

// Stats returns the latest published state.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{State: s.published, Runtime: s.runtime}
	if s.published.Running {
		st.Runtime = time.Since(s.started)
	}
	return st
}

func (s *Server) publish() {
	s.mu.Lock()
	s.published = s.state
	s.mu.Unlock()
}

func (s *Server) mode() string {
	if s.opts.Upload {
		return "upload"
	}
	return "download"
}

func (s *Server) beginDrain(reason string) {
	s.state.Phase = PhaseDraining
	s.publish()
	s.logger.Info("no longer accepting connections", "reason", reason, "in_flight", s.state.InFlight)
}

func (s *Server) finish() {
	runtime := time.Since(s.started)
	s.state.Phase = PhaseStopped
	s.state.Running = false
	close(s.stopped)
	s.mu.Lock()
	s.published = s.state
	s.runtime = runtime
	s.mu.Unlock()
	s.logger.Info("server stopped",
		"runtime", runtime.Round(time.Millisecond).String(),
		"downloads", s.state.Completed,
		"failed", s.state.Failed,
		"requests", s.state.Requests,
	)
}

// notify delivers a completion to the controller. After the server stopped
// there is nobody left to count it and the event is dropped.
func (s *Server) notify(c Completion) {
	select {
	case s.completions <- c:
	case <-s.stopped:
	}
}

func (s *Server) drainCompletions() {
	for {
		select {
		case c := <-s.completions:
			s.complete(c)
		default:
			return
		}
	}
}

func (s *Server) waitCompletion(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case c := <-s.completions:
		s.complete(c)
	case <-timer.C:
	}
}

func (s *Server) complete(c Completion) {
	s.state.InFlight--
	s.state.Completed++
	if c.Err != nil {
		s.state.Failed++
	}
	s.logger.Info("download slot consumed",
		"transfer_id", c.ID,
		"ok", c.Err == nil,
		"elapsed", c.Elapsed.Round(time.Millisecond).String(),
		"completed", s.state.Completed,
		"max", s.state.MaxDownloads,
	)
	if s.state.Phase == PhaseAccepting && s.state.Completed >= s.state.MaxDownloads {
		s.beginDrain("download limit reached")
	}
	s.publish()
}

// reap releases finished workers. It is independent of completion events.
func (s *Server) reap() {
	for id, h := range s.handles {
		select {
		case <-h.Done():
			if err := h.Err(); err != nil {
				s.logger.Debug("worker exited with error", "transfer_id", id, "error", err)
			}
			delete(s.handles, id)
		default:
		}
	}
}

func (s *Server) handleConn(workCtx context.Context, conn net.Conn) {
	s.state.Requests++
	s.publish()
	remote := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HeadTimeout))
	br := bufio.NewReader(conn)
	req, err := wire.ReadHead(br)
	if err != nil {
		if errors.Is(err, wire.ErrBadRequest) {
			s.logger.Info("bad request", "remote", remote, "error", err)
			s.reply(conn, wire.ErrorPage(http.StatusBadRequest, err.Error()))
			return
		}
		s.logger.Debug("connection dropped before a request arrived", "remote", remote, "error", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	path := req.Path()
	s.logger.Debug("request", "remote", remote, "method", req.Method, "path", path)

	headOnly := req.Method == wire.MethodHead
	switch {
	case req.Method == wire.MethodPost && !s.opts.Upload:
		s.reply(conn, wire.ErrorPage(http.StatusNotImplemented, "Uploads are not enabled on this server."))
	case req.Method == wire.MethodPost:
		s.dispatch(workCtx, conn, br, req, remote)
	case s.opts.Upload:
		resp := uploadFormPage()
		resp.HeadOnly = headOnly
		s.reply(conn, resp)
	case !s.opts.Target.matches(path):
		resp := wire.Redirect(s.opts.Target.CanonicalPath())
		resp.HeadOnly = headOnly
		s.reply(conn, resp)
	case headOnly:
		s.replyHead(workCtx, conn)
	default:
		s.dispatch(workCtx, conn, br, req, remote)
	}
}

// reply answers inline and closes the connection. The write deadline keeps
// a stalled client from holding up the accept loop.
func (s *Server) reply(conn net.Conn, resp wire.Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.HeadTimeout))
	if err := wire.WriteResponse(conn, resp); err != nil {
		s.logger.Debug("inline reply failed", "status", resp.Status, "error", err)
	}
	_ = conn.Close()
}

func (s *Server) replyHead(ctx context.Context, conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.HeadTimeout))
	var err error
	t := s.opts.Target
	if t.Kind == KindDirectory {
		_, err = transfer.SendArchive(ctx, conn, transfer.ArchiveJob{Dir: t.Path, Name: t.Filename(), Compression: t.Compression, HeadOnly: true})
	} else {
		_, err = transfer.SendFile(ctx, conn, transfer.FileJob{Path: t.Path, Name: t.Filename(), ContentType: t.ContentType, HeadOnly: true})
	}
	if err != nil {
		s.logger.Debug("HEAD reply failed", "error", err)
	}
	_ = conn.Close()
}

// dispatch hands the connection to a new worker if a slot is free. A slot
// is reserved at spawn time so concurrent transfers never exceed the limit.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, br *bufio.Reader, req *wire.Request, remote string) {
	if s.state.Completed+s.state.InFlight >= s.state.MaxDownloads {
		s.logger.Info("rejecting transfer, all slots taken", "remote", remote, "in_flight", s.state.InFlight)
		s.reply(conn, wire.ErrorPage(http.StatusServiceUnavailable, "All downloads of this resource are in progress or used up."))
		return
	}

	id := uuid.NewString()
	logger := s.logger.With("transfer_id", id, "remote", remote)
	work := s.transferWork(ctx, conn, br, req, logger)
	started := time.Now()
	s.state.InFlight++
	h := s.opts.Spawner.Spawn(id, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("transfer panicked: %v", r)
			}
			s.notify(Completion{ID: id, Err: err, Elapsed: time.Since(started)})
		}()
		return work()
	})
	s.handles[id] = h
	s.publish()
	logger.Info("transfer started", "method", req.Method)
}

func (s *Server) transferWork(ctx context.Context, conn net.Conn, br *bufio.Reader, req *wire.Request, logger *slog.Logger) Work {
	return func() error {
		defer conn.Close()
		var (
			n   int64
			err error
		)
		switch {
		case req.Method == wire.MethodPost:
			var up transfer.Upload
			up, err = transfer.ReceiveUpload(ctx, conn, br, req, transfer.UploadJob{Dir: s.opts.UploadDir, Logger: logger})
			n = up.Bytes
		case s.opts.Target.Kind == KindDirectory:
			t := s.opts.Target
			n, err = transfer.SendArchive(ctx, conn, transfer.ArchiveJob{Dir: t.Path, Name: t.Filename(), Compression: t.Compression, Logger: logger})
		default:
			t := s.opts.Target
			n, err = transfer.SendFile(ctx, conn, transfer.FileJob{Path: t.Path, Name: t.Filename(), ContentType: t.ContentType, Logger: logger})
		}
		if err != nil {
			logger.Warn("transfer failed", "bytes", n, "error", err)
			return err
		}
		logger.Info("transfer finished", "bytes", n)
		return nil
	}
}
