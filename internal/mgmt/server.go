package mgmt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-mux-mgmt/internal/ptree"
	"github.com/randomizedcoder/go-mux-mgmt/internal/stats"
	"github.com/randomizedcoder/go-mux-mgmt/internal/supervisor"
)

// DefaultHost is the only address the management server binds to.
const DefaultHost = "127.0.0.1"

var (
	// ErrNoDocument is returned when setptree is not followed by a document.
	ErrNoDocument = errors.New("no configuration document received")

	// ErrNoCommand is returned when a client closes before sending a command.
	ErrNoCommand = errors.New("no command received")
)

// Observer receives one call per serviced request. It must not block.
type Observer interface {
	ObserveRequest(cmd Command, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(Command, time.Duration, error) {}

// Config holds configuration for creating a new Server.
type Config struct {
	Host        string // default DefaultHost
	Port        int    // 0 picks a free port
	ServiceName string
	Version     string

	// ReadTimeout bounds each command/document line read. Zero disables it.
	ReadTimeout time.Duration

	Registry *stats.Registry
	Bridge   *ptree.Bridge
	Observer Observer
	Logger   *slog.Logger
}

// Server is the management server. It services one connection at a time on
// its accept loop; a slow client delays every other client, and a restart
// waits for the client currently being serviced.
type Server struct {
	host        string
	service     string
	readTimeout time.Duration

	registry *stats.Registry
	bridge   *ptree.Bridge
	observer Observer
	logger   *slog.Logger

	sup *supervisor.Supervisor

	addrMu sync.RWMutex
	addr   net.Addr
	port   int

	fault atomic.Bool
}

// New creates a server. Call Start to begin listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = stats.NewRegistry(logger)
	}
	bridge := cfg.Bridge
	if bridge == nil {
		bridge = ptree.NewBridge(nil, logger)
	}

	return &Server{
		host:        host,
		service:     ServiceString(cfg.ServiceName, cfg.Version),
		readTimeout: cfg.ReadTimeout,
		registry:    registry,
		bridge:      bridge,
		observer:    observer,
		logger:      logger,
		port:        cfg.Port,
		sup: supervisor.New(supervisor.Config{
			Name:   "mgmt_accept_loop",
			Logger: logger,
		}),
	}
}

// Start binds the configured port and starts the accept loop. Bind errors
// are returned.
func (s *Server) Start() error {
	port := s.Port()
	return s.sup.Start(func() (supervisor.Task, error) {
		return s.listen(port)
	})
}

// Restart stops the accept loop, waits for it to exit (including any
// connection in progress) and starts a new one on port. A failed bind is
// returned and leaves the server stopped.
func (s *Server) Restart(ctx context.Context, port int) error {
	s.logger.Info("mgmt_restarting", "port", port)
	return s.sup.Restart(ctx, func() (supervisor.Task, error) {
		return s.listen(port)
	})
}

// RestartAsync runs Restart on its own goroutine. The returned channel
// receives the result and is then closed.
func (s *Server) RestartAsync(port int) <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(result)
		result <- s.Restart(context.Background(), port)
	}()
	return result
}

// Shutdown stops the accept loop and waits for it to exit or for ctx to
// expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("mgmt_shutting_down")
	return s.sup.Stop(ctx)
}

// Done returns a channel closed when the current accept loop exits.
func (s *Server) Done() <-chan struct{} {
	return s.sup.Done()
}

// State returns the accept loop lifecycle state.
func (s *Server) State() supervisor.State {
	return s.sup.State()
}

// Fault reports whether the last accept loop ended on an error rather than
// a stop request. It is diagnostic only; nothing restarts the server on it.
func (s *Server) Fault() bool {
	return s.fault.Load()
}

// Addr returns the address of the current listener, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Port returns the configured port.
func (s *Server) Port() int {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.port
}

// listen binds the listener and returns the accept loop task.
func (s *Server) listen(port int) (supervisor.Task, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.port = port
	s.addrMu.Unlock()

	return func(ctx context.Context) error {
		return s.serve(ctx, ln)
	}, nil
}

// serve is the accept loop. Cancelling ctx closes the listener, which is the
// loop's only cancellation point.
func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.fault.Store(false)
	s.bridge.SetRunning(true)
	defer s.bridge.SetRunning(false)

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer ln.Close()

	backoff := supervisor.NewBackoff(time.Now().UnixNano(), supervisor.DefaultBackoffConfig())

	s.logger.Info("mgmt_listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("mgmt_stopped", "addr", ln.Addr().String())
				return ctx.Err()
			}
			if isTemporary(err) {
				delay := backoff.Next()
				s.logger.Warn("mgmt_accept_retry", "error", err, "delay", delay.String())
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			s.fault.Store(true)
			return fmt.Errorf("accept: %w", err)
		}

		backoff.Reset()
		s.handleConnection(conn)
	}
}

// isTemporary reports whether an accept error is worth retrying.
func isTemporary(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

// handleConnection services one client and closes the connection. Every
// failure is contained here; the accept loop never sees it.
func (s *Server) handleConnection(conn net.Conn) {
	logger := s.logger.With(
		"conn_id", uuid.NewString(),
		"remote", conn.RemoteAddr().String(),
	)

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("mgmt_close_error", "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mgmt_handler_panic", "panic", r)
		}
	}()

	logger.Debug("mgmt_client_accepted")

	if err := s.serveConn(conn, logger); err != nil {
		switch {
		case errors.Is(err, ErrNoCommand), errors.Is(err, ErrNoDocument):
			logger.Warn("mgmt_request_incomplete", "error", err)
		default:
			logger.Error("mgmt_request_failed", "error", err)
		}
	}
}

// serveConn runs the greeting, command and response exchange.
func (s *Server) serveConn(conn net.Conn, logger *slog.Logger) error {
	if _, err := conn.Write(greetingLine(s.service)); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineLength)

	line, err := s.readLine(conn, scanner)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoCommand
		}
		return fmt.Errorf("read command: %w", err)
	}

	cmd := ParseCommand(line)
	logger.Debug("mgmt_command", "command", cmd.String())

	start := time.Now()
	resp, err := s.dispatch(cmd, conn, scanner)
	s.observer.ObserveRequest(cmd, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	if len(resp) == 0 {
		return nil
	}
	if _, err := conn.Write(resp); err != nil {
		return fmt.Errorf("write %s response: %w", cmd, err)
	}
	return nil
}

// dispatch executes cmd and returns the bytes to send back, if any.
func (s *Server) dispatch(cmd Command, conn net.Conn, scanner *bufio.Scanner) ([]byte, error) {
	switch cmd {
	case CmdConfig:
		return encodeLine(ConfigResponse{Config: s.registry.IDs()})

	case CmdValues:
		return encodeLine(ValuesResponse{Values: s.registry.SnapshotValues()})

	case CmdState:
		return encodeLine(StateResponse(s.registry.SnapshotStates()))

	case CmdSetPtree:
		return nil, s.setPtree(conn, scanner)

	case CmdGetPtree:
		return s.getPtree(conn, scanner)

	default:
		return []byte(InvalidCommandResponse), nil
	}
}

// setPtree reads a replacement document and hands it to the engine. Nothing
// is written back, whether it succeeds or not.
func (s *Server) setPtree(conn net.Conn, scanner *bufio.Scanner) error {
	line, err := s.readLine(conn, scanner)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoDocument
		}
		return fmt.Errorf("read document: %w", err)
	}
	if line == "" {
		return ErrNoDocument
	}

	tree, err := ptree.ParseTree([]byte(line))
	if err != nil {
		return err
	}
	s.bridge.Submit(tree)
	return nil
}

// getPtree waits for a fresh document. The wait has no deadline; it ends
// early only if the connection's transport fails, which the watcher detects
// by reading from the otherwise idle connection. A clean EOF is a half-close:
// the client can still receive, so the wait goes on and the final write
// reports a peer that has gone completely.
func (s *Server) getPtree(conn net.Conn, scanner *bufio.Scanner) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for scanner.Scan() {
		}
		if scanner.Err() != nil {
			cancel()
		}
	}()

	tree, err := s.bridge.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("client left while waiting: %w", err)
	}
	return tree.Marshal()
}

// readLine reads one protocol line, applying the read timeout if set.
func (s *Server) readLine(conn net.Conn, scanner *bufio.Scanner) (string, error) {
	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return scanner.Text(), nil
}
