package crossproxy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"proxysync/internal/host"
	"proxysync/internal/protocol"
	"proxysync/internal/text"
)

type instance struct {
	service  *Service
	proxy    *fakeProxy
	recorder *fakeRecorder
	loop     *host.Loop
	stop     context.CancelFunc
}

// ClusterTestSuite runs two instances against one in-process Redis.
type ClusterTestSuite struct {
	suite.Suite
	mr *miniredis.Miniredis
	a  *instance
	b  *instance
}

func (s *ClusterTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.a = s.startInstance("proxy-a")
	s.b = s.startInstance("proxy-b")
}

func (s *ClusterTestSuite) TearDownTest() {
	for _, in := range []*instance{s.a, s.b} {
		in.service.Shutdown(context.Background())
		in.stop()
		<-in.loop.Done()
	}
}

func (s *ClusterTestSuite) startInstance(id string) *instance {
	loop := host.NewLoop(64, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	p := newFakeProxy("lobby", "survival")
	rec := &fakeRecorder{}
	svc := NewService(ServiceOptions{
		Client: Options{
			Enabled:     true,
			RedisURL:    "redis://" + s.mr.Addr(),
			Secret:      testSecret,
			Identity:    id,
			DialTimeout: time.Second,
		},
	}, p, text.LegacyRenderer{}, loop, rec, nil)
	s.Require().NoError(svc.Start(context.Background()))
	s.Require().Equal(StateConnected, svc.State())

	return &instance{service: svc, proxy: p, recorder: rec, loop: loop, stop: cancel}
}

func (s *ClusterTestSuite) eventually(cond func() bool, msg string) {
	s.Eventually(cond, 2*time.Second, 10*time.Millisecond, msg)
}

// settle lets in-flight bus traffic land and both loops go idle.
func (s *ClusterTestSuite) settle() {
	time.Sleep(100 * time.Millisecond)
	for _, in := range []*instance{s.a, s.b} {
		s.Require().NoError(in.loop.Call(context.Background(), func() {}))
	}
}

func (s *ClusterTestSuite) TestKickReachesRemoteAndOriginIgnoresEcho() {
	u := newFakeSession("U", "ursula")
	s.b.proxy.add(u)

	s.Require().NoError(s.a.service.Kick(context.Background(), "U", "&cBad"))

	s.eventually(func() bool { return len(u.Disconnects()) == 1 }, "U should be kicked on B")
	s.Equal([]string{"Bad"}, u.Disconnects())

	s.settle()
	// once for the local application, none for the echo
	s.Equal(1, s.a.recorder.count(protocol.KindKick))
	s.Equal(1, s.b.recorder.count(protocol.KindKick))
}

func (s *ClusterTestSuite) TestBroadcastAppliedOnceEverywhere() {
	onA := newFakeSession("u1", "alice")
	onB := newFakeSession("u2", "bob")
	s.a.proxy.add(onA)
	s.b.proxy.add(onB)

	s.Require().NoError(s.a.service.Broadcast(context.Background(), "&eServer restart in 5 minutes"))

	s.eventually(func() bool { return len(onA.Messages()) == 1 && len(onB.Messages()) == 1 }, "broadcast delivered")
	s.settle()
	s.Equal([]string{"Server restart in 5 minutes"}, onA.Messages())
	s.Equal([]string{"Server restart in 5 minutes"}, onB.Messages())
}

func (s *ClusterTestSuite) TestSessionJoinedClosesDuplicateAndOwnsPresence() {
	ctx := context.Background()
	old := newFakeSession("U", "ursula")
	s.b.proxy.add(old)
	s.b.service.SessionJoined(ctx, "U")

	owner, ok := s.a.service.Locate(ctx, "U")
	s.Require().True(ok)
	s.Equal("proxy-b", owner)

	fresh := newFakeSession("U", "ursula")
	s.a.proxy.add(fresh)
	s.a.service.SessionJoined(ctx, "U")

	s.eventually(func() bool { return len(old.Disconnects()) == 1 }, "old session closed on B")
	s.settle()
	s.Empty(fresh.Disconnects())

	// B's leave must not erase A's entry
	s.b.service.SessionLeft(ctx, "U")
	owner, ok = s.b.service.Locate(ctx, "U")
	s.Require().True(ok)
	s.Equal("proxy-a", owner)

	s.a.service.SessionLeft(ctx, "U")
	_, ok = s.a.service.Locate(ctx, "U")
	s.False(ok)
}

func (s *ClusterTestSuite) TestSendPlayerAcrossInstances() {
	u := newFakeSession("U", "ursula")
	s.b.proxy.add(u)

	s.Require().NoError(s.a.service.SendPlayer(context.Background(), "U", "survival"))
	s.eventually(func() bool { return u.Server() == "survival" }, "U moved on B")
}

func (s *ClusterTestSuite) TestPrivateMessageByName() {
	u := newFakeSession("U", "ursula")
	s.b.proxy.add(u)

	s.Require().NoError(s.a.service.PrivateMessage(context.Background(), "ursula", "&dalice: psst"))
	s.eventually(func() bool { return len(u.Messages()) == 1 }, "message delivered")
	s.Equal("alice: psst", u.Messages()[0])
}

func (s *ClusterTestSuite) TestShutdownClearsOwnedPresence() {
	ctx := context.Background()
	u := newFakeSession("U", "ursula")
	s.b.proxy.add(u)
	s.b.service.SessionJoined(ctx, "U")

	s.b.service.Shutdown(ctx)

	_, ok := s.a.service.Locate(ctx, "U")
	s.False(ok)
	s.Equal(StateDisabled, s.b.service.State())
}

func TestClusterTestSuite(t *testing.T) {
	suite.Run(t, new(ClusterTestSuite))
}
