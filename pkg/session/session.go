// Copyright 2025 Certen Protocol

// Package session implements the session manager of SPEC_FULL.md §4.4: a
// typed state machine guarding open/close (§9, replacing a busy-wait flag
// with an explicit enum), and a supervised keepalive worker.
package session

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/verrors"
)

// Session is the client's authenticated handle to one database.
type Session struct {
	ID         string
	Token      string
	ServerUUID string
	Db         string
}

// State is the session lifecycle enum of SPEC_FULL.md §9.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Manager owns at most one active Session and the single-slot mutual
// exclusion flag guarding its setup and teardown (SPEC_FULL.md §4.4's
// "Open/close synchronization").
type Manager struct {
	rpc    transport.RPC
	logger *log.Logger

	mu            sync.Mutex
	state         State
	session       *Session
	keepaliveStop chan struct{}
	keepaliveDone chan struct{}

	keepaliveInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeepaliveInterval sets the heartbeat period for open sessions.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(m *Manager) { m.keepaliveInterval = d }
}

// WithLogger overrides the manager's logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager issuing RPCs through rpc.
func NewManager(rpc transport.RPC, opts ...Option) *Manager {
	m := &Manager{
		rpc:               rpc,
		state:             Closed,
		logger:            log.New(os.Stderr, "[session] ", log.LstdFlags),
		keepaliveInterval: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active session, or nil if none is open. The
// returned value is a snapshot; callers must not mutate it.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Open establishes a new session. Concurrent Open/Close calls serialize on
// m.mu; calling Open while already Open (or mid-transition) is
// AlreadyOpen, per SPEC_FULL.md §4.4's rationale: the client holds at most
// one active session, and overlapping mutations would corrupt
// authorization headers built from it.
func (m *Manager) Open(ctx context.Context, user, password, db string) (*Session, error) {
	m.mu.Lock()
	if m.state != Closed {
		st := m.state
		m.mu.Unlock()
		return nil, verrors.Newf(verrors.AlreadyOpen, "cannot open session while %s", st)
	}
	m.state = Opening
	m.mu.Unlock()

	resp, err := m.rpc.Login(ctx, transport.LoginRequest{User: user, Password: password, Db: db})
	if err != nil {
		m.mu.Lock()
		m.state = Closed
		m.mu.Unlock()
		return nil, verrors.MapServerError(err)
	}

	sess := &Session{
		ID:         uuid.NewString(),
		Token:      resp.Token,
		ServerUUID: resp.ServerUUID,
		Db:         db,
	}

	m.mu.Lock()
	m.session = sess
	m.state = Open
	m.keepaliveStop = make(chan struct{})
	m.keepaliveDone = make(chan struct{})
	stop, done := m.keepaliveStop, m.keepaliveDone
	m.mu.Unlock()

	go m.keepaliveLoop(sess, stop, done)

	return sess, nil
}

// Close invalidates the active session's token and stops its keepalive
// worker, waiting for it to fully stop before returning (SPEC_FULL.md §9,
// "Keepalive task → supervised background worker").
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Open {
		st := m.state
		m.mu.Unlock()
		return verrors.Newf(verrors.NotOpen, "cannot close session while %s", st)
	}
	m.state = Closing
	sess := m.session
	stop, done := m.keepaliveStop, m.keepaliveDone
	m.mu.Unlock()

	close(stop)
	<-done

	hdr := transport.Header{Token: sess.Token}
	err := m.rpc.Logout(ctx, hdr)

	m.mu.Lock()
	m.session = nil
	m.state = Closed
	m.keepaliveStop = nil
	m.keepaliveDone = nil
	m.mu.Unlock()

	if err != nil {
		return verrors.MapServerError(err)
	}
	return nil
}

// Header builds the RPC header for the active session, or NotOpen if no
// session is active.
func (m *Manager) Header() (transport.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open || m.session == nil {
		return transport.Header{}, verrors.New(verrors.NotOpen, "no active session")
	}
	return transport.Header{Token: m.session.Token}, nil
}

// keepaliveLoop sends a heartbeat at the configured interval until stop is
// closed. Heartbeat failures are logged and dropped per SPEC_FULL.md §7:
// the single exception to "never swallow" — the next user RPC will
// surface the real error if the session has actually gone bad.
func (m *Manager) keepaliveLoop(sess *Session, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(m.keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.keepaliveInterval)
			err := m.rpc.Keepalive(ctx, transport.Header{Token: sess.Token})
			cancel()
			if err != nil {
				m.logger.Printf("keepalive failed for session %s: %v", sess.ID, err)
			}
		}
	}
}
