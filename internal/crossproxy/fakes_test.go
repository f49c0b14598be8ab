package crossproxy

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"proxysync/internal/protocol"
	"proxysync/internal/text"
)

// MockSession mocks the Session interface
type MockSession struct {
	mock.Mock
}

func (m *MockSession) ID() string   { return m.Called().String(0) }
func (m *MockSession) Name() string { return m.Called().String(0) }

func (m *MockSession) Disconnect(reason text.Component) { m.Called(reason) }

func (m *MockSession) Connect(server string) error { return m.Called(server).Error(0) }

func (m *MockSession) SendMessage(msg text.Component) { m.Called(msg) }

func (m *MockSession) HasPermission(permission string) bool {
	return m.Called(permission).Bool(0)
}

func newMockSession(id, name string) *MockSession {
	s := new(MockSession)
	s.On("ID").Return(id).Maybe()
	s.On("Name").Return(name).Maybe()
	return s
}

// fakeSession records what happened to it.
type fakeSession struct {
	id, name   string
	perms      map[string]bool
	connectErr error
	panics     bool

	mu          sync.Mutex
	disconnects []string
	messages    []string
	server      string
}

func newFakeSession(id, name string) *fakeSession {
	return &fakeSession{id: id, name: name, perms: map[string]bool{}}
}

func (f *fakeSession) ID() string   { return f.id }
func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) Disconnect(reason text.Component) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, reason.Plain())
}

func (f *fakeSession) Connect(server string) error {
	if f.panics {
		panic("connect exploded")
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.server = server
	return nil
}

func (f *fakeSession) SendMessage(msg text.Component) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg.Plain())
}

func (f *fakeSession) HasPermission(permission string) bool { return f.perms[permission] }

func (f *fakeSession) Disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

func (f *fakeSession) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSession) Server() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server
}

// fakeProxy is an in-memory registry keeping insertion order.
type fakeProxy struct {
	mu       sync.Mutex
	sessions []Session
	servers  map[string]bool
}

func newFakeProxy(servers ...string) *fakeProxy {
	p := &fakeProxy{servers: map[string]bool{}}
	for _, s := range servers {
		p.servers[s] = true
	}
	return p
}

func (p *fakeProxy) add(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, s)
}

func (p *fakeProxy) Session(id string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

func (p *fakeProxy) SessionByName(name string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

func (p *fakeProxy) Sessions() []Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Session(nil), p.sessions...)
}

func (p *fakeProxy) HasServer(name string) bool { return p.servers[name] }

// inlineExecutor runs tasks on the caller's goroutine.
type inlineExecutor struct {
	err error
}

func (e inlineExecutor) Submit(_ context.Context, task func()) error {
	if e.err != nil {
		return e.err
	}
	task()
	return nil
}

func (e inlineExecutor) Call(ctx context.Context, fn func()) error {
	return e.Submit(ctx, fn)
}

type recorded struct {
	kind   protocol.Kind
	target string
	origin string
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *fakeRecorder) Record(kind protocol.Kind, target, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{kind: kind, target: target, origin: origin})
}

func (r *fakeRecorder) count(kind protocol.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func encode(t interface{ Fatalf(string, ...any) }, m protocol.Message) string {
	raw, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode %T: %v", m, err)
	}
	return raw
}
