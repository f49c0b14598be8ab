package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"proxysync/internal/crossproxy"
	"proxysync/internal/host"
	"proxysync/internal/text"
)

const testJWTSecret = "test-secret-key-for-session-front-tests"

// testClient is a line-oriented client speaking the JSON frame protocol.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// TCPServerTestSuite runs the session front with a real loop and an offline
// cross-proxy service, so network actions apply locally.
type TCPServerTestSuite struct {
	suite.Suite
	server  *TCPServer
	manager *ConnectionManager
	service *crossproxy.Service
	loop    *host.Loop
	stop    context.CancelFunc
}

func (s *TCPServerTestSuite) SetupTest() {
	s.loop = host.NewLoop(64, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.loop.Run(ctx)

	s.manager = NewConnectionManager([]string{"lobby", "survival"}, "lobby", nil)
	s.service = crossproxy.NewService(crossproxy.ServiceOptions{
		Client:   crossproxy.Options{Enabled: false, Identity: "proxy-test"},
		Handlers: crossproxy.HandlerOptions{TeamChatPermission: "staff.chat"},
	}, s.manager, text.LegacyRenderer{}, s.loop, nil, nil)
	s.Require().NoError(s.service.Start(context.Background()))

	s.server = NewServer(ServerOptions{
		Addr:               "127.0.0.1:0",
		TeamChatPermission: "staff.chat",
	}, s.manager, NewTCPAuthService(testJWTSecret), s.loop, s.service, nil)
	s.Require().NoError(s.server.Listen())
	go s.server.Serve()
}

func (s *TCPServerTestSuite) TearDownTest() {
	s.server.Stop()
	s.service.Shutdown(context.Background())
	s.stop()
	<-s.loop.Done()
}

func (s *TCPServerTestSuite) token(userID, username string, permissions ...string) string {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	if len(permissions) > 0 {
		claims["permissions"] = permissions
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	s.Require().NoError(err)
	return signed
}

func (s *TCPServerTestSuite) dial() *testClient {
	conn, err := net.Dial("tcp", s.server.ListenAddr().String())
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *TCPServerTestSuite) send(c *testClient, typ string, data map[string]any) {
	payload, err := json.Marshal(Message{Type: typ, Data: data})
	s.Require().NoError(err)
	_, err = c.conn.Write(append(payload, '\n'))
	s.Require().NoError(err)
}

// expect reads frames until one of the given type arrives.
func (s *TCPServerTestSuite) expect(c *testClient, typ string) Message {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := c.reader.ReadBytes('\n')
		s.Require().NoError(err, "waiting for %s frame", typ)
		var msg Message
		s.Require().NoError(json.Unmarshal(line, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func (s *TCPServerTestSuite) login(userID, username string, permissions ...string) *testClient {
	c := s.dial()
	s.send(c, TypeLogin, map[string]any{"token": s.token(userID, username, permissions...)})
	welcome := s.expect(c, TypeSystem)
	s.Equal("Logged in as "+username, welcome.Data["message"])
	transfer := s.expect(c, TypeTransfer)
	s.Equal("lobby", transfer.Data["server"])
	return c
}

func (s *TCPServerTestSuite) TestFramesBeforeLoginRejected() {
	c := s.dial()
	s.send(c, TypeChat, map[string]any{"text": "hello?"})

	msg := s.expect(c, TypeError)
	s.Equal(ErrUnauthenticated.Error(), msg.Data["message"])
}

func (s *TCPServerTestSuite) TestInvalidTokenClosesConnection() {
	c := s.dial()
	s.send(c, TypeLogin, map[string]any{"token": "not-a-jwt"})

	s.expect(c, TypeError)
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.reader.ReadBytes('\n')
	s.Error(err)
	s.Equal(0, s.manager.SessionCount())
}

func (s *TCPServerTestSuite) TestLoginRegistersSession() {
	s.login("u1", "alice")

	sess, ok := s.manager.Session("u1")
	s.Require().True(ok)
	s.Equal("alice", sess.Name())
	_, ok = s.manager.SessionByName("ALICE")
	s.True(ok)
	s.Equal("lobby", sess.(*ClientConnection).CurrentServer())
}

func (s *TCPServerTestSuite) TestChatReachesEveryone() {
	alice := s.login("u1", "alice")
	bob := s.login("u2", "bob")

	s.send(alice, TypeChat, map[string]any{"text": "hi all"})

	for _, c := range []*testClient{alice, bob} {
		msg := s.expect(c, TypeChat)
		s.Equal("alice: hi all", msg.Data["text"])
	}
}

func (s *TCPServerTestSuite) TestTeamChatNeedsPermission() {
	staff := s.login("u1", "alice", "staff.chat")
	player := s.login("u2", "bob")

	s.send(player, TypeTeamChat, map[string]any{"text": "let me in"})
	s.expect(player, TypeError)

	s.send(staff, TypeTeamChat, map[string]any{"text": "meeting at 5"})
	msg := s.expect(staff, TypeChat)
	s.Equal("[Team] alice: meeting at 5", msg.Data["text"])
}

func (s *TCPServerTestSuite) TestPrivateMessage() {
	alice := s.login("u1", "alice")
	bob := s.login("u2", "bob")

	s.send(alice, TypePrivate, map[string]any{"to": "bob", "text": "psst"})

	s.Equal("alice -> you: psst", s.expect(bob, TypeChat).Data["text"])
	s.Equal("you -> bob: psst", s.expect(alice, TypeChat).Data["text"])
}

func (s *TCPServerTestSuite) TestServerSwitch() {
	alice := s.login("u1", "alice")

	s.send(alice, TypeServer, map[string]any{"name": "survival"})
	s.Equal("survival", s.expect(alice, TypeTransfer).Data["server"])

	s.send(alice, TypeServer, map[string]any{"name": "moon"})
	s.Contains(s.expect(alice, TypeError).Data["message"], crossproxy.ErrUnknownServer.Error())
}

func (s *TCPServerTestSuite) TestSecondLoginReplacesFirst() {
	first := s.login("u1", "alice")
	s.login("u1", "alice")

	msg := s.expect(first, TypeDisconnect)
	s.Equal("You logged in from another location.", msg.Data["reason"])
	s.Eventually(func() bool { return s.manager.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func (s *TCPServerTestSuite) TestNetworkKickDisconnectsSession() {
	alice := s.login("u1", "alice")

	s.Require().NoError(s.service.Kick(context.Background(), "u1", "&cBad"))

	msg := s.expect(alice, TypeDisconnect)
	s.Equal("Bad", msg.Data["reason"])
	s.Eventually(func() bool { return s.manager.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *TCPServerTestSuite) TestNetworkSendAll() {
	alice := s.login("u1", "alice")
	bob := s.login("u2", "bob")

	s.Require().NoError(s.service.SendAll(context.Background(), "survival"))

	s.Equal("survival", s.expect(alice, TypeTransfer).Data["server"])
	s.Equal("survival", s.expect(bob, TypeTransfer).Data["server"])
}

func (s *TCPServerTestSuite) TestRateLimit() {
	alice := s.login("u1", "alice")

	for i := 0; i < 30; i++ {
		s.send(alice, "noop", nil)
	}
	c := alice
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := c.reader.ReadBytes('\n')
		s.Require().NoError(err)
		var msg Message
		s.Require().NoError(json.Unmarshal(line, &msg))
		if msg.Type == TypeError && msg.Data["message"] == "Rate limit exceeded" {
			return
		}
	}
}

func (s *TCPServerTestSuite) TestStopClosesSessions() {
	alice := s.login("u1", "alice")

	s.server.Stop()

	s.Equal("Server is shutting down.", s.expect(alice, TypeSystem).Data["message"])
	s.Equal(0, s.manager.SessionCount())
}

func (s *TCPServerTestSuite) TestLoginTimeoutLeavesNoSession() {
	s.server.Stop()
	s.server = NewServer(ServerOptions{
		Addr:      "127.0.0.1:0",
		OpTimeout: 50 * time.Millisecond,
	}, s.manager, NewTCPAuthService(testJWTSecret), s.loop, s.service, nil)
	s.Require().NoError(s.server.Listen())
	go s.server.Serve()

	// hold the loop so the registration stays queued past the timeout
	blocked := make(chan struct{})
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(blocked) }) }
	defer release()
	s.Require().NoError(s.loop.Submit(context.Background(), func() { <-blocked }))

	c := s.dial()
	s.send(c, TypeLogin, map[string]any{"token": s.token("u1", "alice")})
	s.expect(c, TypeError)
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.reader.ReadBytes('\n')
	s.Error(err)

	release()
	// FIFO: everything queued by the failed login has run once this returns
	s.Require().NoError(s.loop.Call(context.Background(), func() {}))

	_, ok := s.manager.Session("u1")
	s.False(ok)
	s.Equal(0, s.manager.SessionCount())

	// the user can log in again afterwards
	s.login("u1", "alice")
	s.Equal(1, s.manager.SessionCount())
}

func TestTCPServerTestSuite(t *testing.T) {
	suite.Run(t, new(TCPServerTestSuite))
}
