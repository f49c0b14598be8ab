package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"proxysync/internal/crossproxy"
	"proxysync/internal/text"
)

// Cluster is the network-wide side of the session front.
type Cluster interface {
	SessionJoined(ctx context.Context, sessionID string)
	SessionLeft(ctx context.Context, sessionID string)
	Broadcast(ctx context.Context, text string) error
	TeamChat(ctx context.Context, text string) error
	PrivateMessage(ctx context.Context, targetName, text string) error
}

type ServerOptions struct {
	Addr                   string
	DuplicateSessionReason string
	TeamChatPermission     string
	ShutdownGrace          time.Duration // pause between the shutdown notice and closing connections
	OpTimeout              time.Duration // bounds loop and cluster calls made for one frame
}

// server struct and methods
type TCPServer struct {
	Addr    string
	Manager *ConnectionManager
	Auth    *TCPAuthService
	exec    crossproxy.Executor
	cluster Cluster
	opts    ServerOptions
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	quitChan chan struct{}
	// shutdown signal channel
	// when closed, the accept loop exits instead of logging the error
	quitOnce sync.Once
	wg       sync.WaitGroup
	// wait group for collection of goroutines to finish
}

// constructor for Server
func NewServer(opts ServerOptions, manager *ConnectionManager, auth *TCPAuthService, exec crossproxy.Executor, cluster Cluster, logger *slog.Logger) *TCPServer {
	if opts.DuplicateSessionReason == "" {
		opts.DuplicateSessionReason = crossproxy.DefaultDuplicateSessionReason
	}
	if opts.TeamChatPermission == "" {
		opts.TeamChatPermission = crossproxy.DefaultTeamChatPermission
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		Addr:     opts.Addr,
		Manager:  manager,
		Auth:     auth,
		exec:     exec,
		cluster:  cluster,
		opts:     opts,
		logger:   logger.With("component", "tcp_server"),
		quitChan: make(chan struct{}),
	}
}

// Listen binds the listening socket without accepting yet.
func (s *TCPServer) Listen() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server, error: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("tcp_server_listening", "addr", listener.Addr().String())
	return nil
}

// ListenAddr is the bound address, useful when Addr used port 0.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// method to start the server
func (s *TCPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until Stop.
func (s *TCPServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("tcp server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept_failed", "error", err)
			continue
		}
		// add +1 to wait group for the new connection handler goroutine
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// handle connections/lifecycle of single client connection
func (s *TCPServer) handleConnection(conn net.Conn) {
	client := NewClientConnection(conn, s)
	s.Manager.AddConnection(client)
	client.Listen()
	s.Manager.RemoveConnection(client)
	s.leave(client)
}

// leave unregisters a logged-in session and clears its presence, unless a
// newer login already replaced it.
func (s *TCPServer) leave(client *ClientConnection) {
	if !client.Authenticated {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()

	var removed bool
	if err := s.exec.Call(ctx, func() { removed = s.Manager.Unregister(client) }); err != nil {
		// the loop is gone, nothing else mutates the registry now
		removed = s.Manager.Unregister(client)
	}
	if removed {
		s.cluster.SessionLeft(ctx, client.UserID)
	}
}

func (s *TCPServer) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.OpTimeout)
}

func (s *TCPServer) render(legacy string) text.Component {
	return text.Legacy(legacy)
}

// stop the server
func (s *TCPServer) Stop() {
	s.quitOnce.Do(func() { close(s.quitChan) })

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	s.Manager.BroadcastSystemMessage("Server is shutting down.")
	if s.opts.ShutdownGrace > 0 {
		time.Sleep(s.opts.ShutdownGrace) // let clients read the notice
	}
	s.Manager.CloseAllConnections()
	s.wg.Wait()
	s.logger.Info("tcp_server_stopped")
}
