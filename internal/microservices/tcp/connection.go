package tcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"proxysync/internal/crossproxy"
	"proxysync/internal/text"
)

const MaxMessageSize = 64 * 1024            // 64KB max frame size
const MaxDeadlineDuration = 5 * time.Minute // 5min max read timeout duration
const WriteTimeout = 5 * time.Second        // bounds a write to a slow client

// ClientConnection is one TCP client. After login it is also the session the
// cross-proxy handlers see.
type ClientConnection struct {
	connID  string // unique per connection = key in manager.clients
	conn    net.Conn
	Writer  *bufio.Writer
	writeMu sync.Mutex // Send is called from the loop and the reader goroutine
	server  *TCPServer
	Limiter *rate.Limiter // rate limiter for rate of sending messages

	// set once by the reader goroutine during login
	UserID        string
	Username      string
	permissions   map[string]bool
	Authenticated bool

	mu        sync.Mutex
	current   string // backend server the session is on
	abandoned bool   // login gave up waiting for registration

	closeOnce sync.Once
}

// constructor for Connection
func NewClientConnection(conn net.Conn, server *TCPServer) *ClientConnection {
	return &ClientConnection{
		connID:  uuid.NewString(),
		conn:    conn,
		Writer:  bufio.NewWriter(conn),
		server:  server,
		Limiter: rate.NewLimiter(rate.Limit(10), 20), // 10 msgs/sec with burst of 20
		// the limiter auto depletes tokens when Allow is called and refills over time
	}
}

func (c *ClientConnection) logger() *slog.Logger { return c.server.logger }

// method to listen for incoming data
func (c *ClientConnection) Listen() {
	defer c.Close()
	reader := bufio.NewReaderSize(c.conn, 4096)

	c.logger().Info("client_started_listening",
		"client_id", c.connID,
		"remote_addr", c.conn.RemoteAddr().String(),
	)
	// Set initial deadline for read operations
	c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

	for {
		// Read until newline delimiter (messages are newline-terminated)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger().Info("client_disconnected",
					"client_id", c.connID,
				)
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger().Warn("client_read_timeout",
					"client_id", c.connID,
				)
				return
			}
			// expected when the session was kicked or the server stops
			if errors.Is(err, net.ErrClosed) ||
				strings.Contains(err.Error(), "closed network connection") ||
				strings.Contains(err.Error(), "connection reset") {
				return
			}
			c.logger().Error("client_read_error",
				"client_id", c.connID,
				"error", err,
			)
			return
		}

		// reset deadline on successful read
		c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

		// Check message size (protect against oversized messages)
		if len(line) > MaxMessageSize {
			c.logger().Warn("message_too_large",
				"client_id", c.connID,
				"size", len(line),
				"max_size", MaxMessageSize,
			)
			c.Send(errorFrame("message too large"))
			continue
		}

		// check rate limit
		if !c.Limiter.Allow() { // returns true if a token is available then consumes it
			c.logger().Warn("rate_limit_exceeded",
				"client_id", c.connID,
			)
			c.Send(errorFrame("Rate limit exceeded"))
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger().Warn("invalid_json_received",
				"client_id", c.connID,
				"error", err.Error(),
			)
			c.Send(errorFrame("invalid JSON"))
			continue
		}

		if !c.Authenticated && msg.Type != TypeLogin {
			c.Send(errorFrame(ErrUnauthenticated.Error()))
			continue
		}

		switch msg.Type {
		case TypeLogin:
			if !c.handleLogin(msg.Data) {
				return
			}
		case TypeChat:
			c.handleChat(msg.Data)
		case TypeTeamChat:
			c.handleTeamChat(msg.Data)
		case TypePrivate:
			c.handlePrivateMessage(msg.Data)
		case TypeServer:
			c.handleServerSwitch(msg.Data)
		default:
			c.Send(errorFrame(fmt.Sprintf("unknown message type %q", msg.Type)))
		}
	}
}

// handleLogin authenticates the connection and registers it as a session.
// It returns false when the connection must be dropped.
func (c *ClientConnection) handleLogin(data map[string]any) bool {
	if c.Authenticated {
		c.Send(errorFrame("already logged in"))
		return true
	}

	identity, err := c.server.Auth.ValidateToken(stringField(data, "token"))
	if err != nil {
		c.logger().Warn("login_failed",
			"client_id", c.connID,
			"error", err,
		)
		c.Send(errorFrame("invalid token"))
		return false
	}

	c.UserID = identity.UserID
	c.Username = identity.Username
	c.permissions = make(map[string]bool, len(identity.Permissions))
	for _, p := range identity.Permissions {
		c.permissions[p] = true
	}
	c.Authenticated = true

	ctx, cancel := c.server.opContext()
	defer cancel()

	server := c.server.Manager.DefaultServer()
	err = c.server.exec.Call(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.abandoned {
			return
		}
		c.current = server
		if old := c.server.Manager.Register(c); old != nil {
			old.Disconnect(c.server.render(c.server.opts.DuplicateSessionReason))
		}
	})
	if err != nil {
		c.logger().Warn("session_register_failed",
			"client_id", c.connID,
			"session_id", c.UserID,
			"error", err,
		)
		// The task may still be queued. It skips itself from here on; if it
		// already ran, leave unregisters the session since Authenticated stays set.
		c.mu.Lock()
		c.abandoned = true
		c.mu.Unlock()
		c.Send(errorFrame("server is shutting down"))
		return false
	}

	c.server.cluster.SessionJoined(ctx, c.UserID)

	c.Send(systemFrame("Logged in as " + c.Username))
	c.Send(transferFrame(server))
	return true
}

func (c *ClientConnection) handleChat(data map[string]any) {
	body := strings.TrimSpace(stringField(data, "text"))
	if body == "" {
		c.Send(errorFrame("text is required"))
		return
	}
	ctx, cancel := c.server.opContext()
	defer cancel()
	if err := c.server.cluster.Broadcast(ctx, fmt.Sprintf("&7%s: &f%s", c.Username, body)); err != nil {
		c.logger().Warn("chat_failed", "session_id", c.UserID, "error", err)
	}
}

func (c *ClientConnection) handleTeamChat(data map[string]any) {
	if !c.HasPermission(c.server.opts.TeamChatPermission) {
		c.Send(errorFrame("you may not use team chat"))
		return
	}
	body := strings.TrimSpace(stringField(data, "text"))
	if body == "" {
		c.Send(errorFrame("text is required"))
		return
	}
	ctx, cancel := c.server.opContext()
	defer cancel()
	if err := c.server.cluster.TeamChat(ctx, fmt.Sprintf("&b[Team] &7%s: &f%s", c.Username, body)); err != nil {
		c.logger().Warn("team_chat_failed", "session_id", c.UserID, "error", err)
	}
}

func (c *ClientConnection) handlePrivateMessage(data map[string]any) {
	to := strings.TrimSpace(stringField(data, "to"))
	body := strings.TrimSpace(stringField(data, "text"))
	if to == "" || body == "" {
		c.Send(errorFrame("to and text are required"))
		return
	}
	ctx, cancel := c.server.opContext()
	defer cancel()
	if err := c.server.cluster.PrivateMessage(ctx, to, fmt.Sprintf("&d%s -> you: &f%s", c.Username, body)); err != nil {
		c.logger().Warn("private_message_failed", "session_id", c.UserID, "error", err)
		return
	}
	c.SendMessage(c.server.render(fmt.Sprintf("&dyou -> %s: &f%s", to, body)))
}

func (c *ClientConnection) handleServerSwitch(data map[string]any) {
	name := strings.TrimSpace(stringField(data, "name"))
	ctx, cancel := c.server.opContext()
	defer cancel()

	var connectErr error
	if err := c.server.exec.Call(ctx, func() { connectErr = c.Connect(name) }); err != nil {
		c.Send(errorFrame("server is shutting down"))
		return
	}
	if connectErr != nil {
		c.Send(errorFrame(connectErr.Error()))
	}
}

func (c *ClientConnection) ID() string   { return c.UserID }
func (c *ClientConnection) Name() string { return c.Username }

// Disconnect tells the client why and closes the connection. The reader
// goroutine then runs the leave path.
func (c *ClientConnection) Disconnect(reason text.Component) {
	if err := c.Send(textFrame(TypeDisconnect, "reason", reason)); err != nil {
		c.logger().Debug("disconnect_notice_failed", "client_id", c.connID, "error", err)
	}
	c.Close()
	c.logger().Info("session_disconnected",
		"client_id", c.connID,
		"session_id", c.UserID,
		"reason", reason.Plain(),
	)
}

// Connect moves the session to a backend server.
func (c *ClientConnection) Connect(server string) error {
	if !c.server.Manager.HasServer(server) {
		return fmt.Errorf("%w: %q", crossproxy.ErrUnknownServer, server)
	}
	c.mu.Lock()
	if c.current == server {
		c.mu.Unlock()
		return nil
	}
	c.current = server
	c.mu.Unlock()
	return c.Send(transferFrame(server))
}

func (c *ClientConnection) SendMessage(msg text.Component) {
	if err := c.Send(textFrame(TypeChat, "text", msg)); err != nil {
		c.logger().Warn("send_message_failed",
			"client_id", c.connID,
			"error", err,
		)
	}
}

func (c *ClientConnection) HasPermission(permission string) bool {
	return c.permissions[permission]
}

// CurrentServer returns the backend the session is on.
func (c *ClientConnection) CurrentServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// method to send data over the connection
func (c *ClientConnection) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	//=> data + "\n" then flush to the io.Writer buffer
	if _, err := c.Writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.Writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.Writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// method to close the connection
func (c *ClientConnection) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}
