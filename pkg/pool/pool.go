// Copyright 2025 Certen Protocol

// Package pool implements the connection pool contract of SPEC_FULL.md
// §4.4: acquire/release a transport multiplex keyed by server address, an
// idle sweeper, and a graceful shutdown. Styled on the teacher's
// pkg/database.Client (functional options, a prefixed *log.Logger,
// connection-pool tuning via explicit fields rather than a framework).
package pool

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/certen/verikv/pkg/verrors"
)

// Connection is a tagged sum type (SPEC_FULL.md §9, "Polymorphic connection
// via sentinel → sum type"): either a GRPCConnection backed by a live
// *grpc.ClientConn, or the Released sentinel meaning "no transport held".
type Connection interface {
	isConnection()
}

// GRPCConnection wraps one multiplexed gRPC transport to a server address.
type GRPCConnection struct {
	addr     string
	conn     *grpc.ClientConn
	mu       sync.Mutex
	lastUsed time.Time
	refs     int
}

func (*GRPCConnection) isConnection() {}

// Conn returns the underlying *grpc.ClientConn for issuing RPCs.
func (c *GRPCConnection) Conn() *grpc.ClientConn { return c.conn }

// Addr returns the server address this connection is multiplexed to.
func (c *GRPCConnection) Addr() string { return c.addr }

func (c *GRPCConnection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *GRPCConnection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

type releasedConnection struct{}

func (releasedConnection) isConnection() {}

// Released is the distinguished "no transport held" value. Issuing an RPC
// against it must fail with verrors.ConnectionReleased rather than
// branching on a nil connection.
var Released Connection = releasedConnection{}

// RPCOrReleased extracts the *grpc.ClientConn from c, or a
// ConnectionReleased error if c is the Released sentinel (or any other
// non-GRPCConnection value).
func RPCOrReleased(c Connection) (*grpc.ClientConn, error) {
	gc, ok := c.(*GRPCConnection)
	if !ok {
		return nil, verrors.New(verrors.ConnectionReleased, "rpc issued against a released connection")
	}
	gc.touch()
	return gc.conn, nil
}

// DialParams configures how the pool dials a new connection.
type DialParams struct {
	Address  string
	TLS      credentials.TransportCredentials // nil selects insecure
	DialOpts []grpc.DialOption
}

// Pool multiplexes gRPC transports by server address, enforcing
// maxConnectionsPerServer and sweeping idle connections. Safe for
// concurrent use; a process-wide default instance may be shared, but
// nothing in this package reaches for global state itself (SPEC_FULL.md
// §9, "Mutable singletons → explicit collaborators").
type Pool struct {
	maxPerServer        int
	idleCheckInterval   time.Duration
	terminateIdleAfter  time.Duration
	shutdownGrace       time.Duration
	logger              *log.Logger

	mu        sync.Mutex
	idle      map[string][]*GRPCConnection // available for acquire
	inUse     map[string]int               // count currently held
	waiters   map[string][]chan struct{}   // parked Acquire calls, FIFO per address
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxConnectionsPerServer bounds concurrently-held connections per
// address; excess Acquire calls block until a slot frees.
func WithMaxConnectionsPerServer(n int) Option {
	return func(p *Pool) { p.maxPerServer = n }
}

// WithIdleConnectionCheckInterval sets the sweeper's polling period.
func WithIdleConnectionCheckInterval(d time.Duration) Option {
	return func(p *Pool) { p.idleCheckInterval = d }
}

// WithTerminateIdleConnectionTimeout sets how long a connection may sit
// released-and-unused before the sweeper closes it.
func WithTerminateIdleConnectionTimeout(d time.Duration) Option {
	return func(p *Pool) { p.terminateIdleAfter = d }
}

// WithShutdownGracePeriod bounds how long Shutdown waits for idle
// connections to finish closing. In-flight calls are not tracked or
// cancelled.
func WithShutdownGracePeriod(d time.Duration) Option {
	return func(p *Pool) { p.shutdownGrace = d }
}

// WithLogger overrides the pool's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool and starts its idle sweeper.
func New(opts ...Option) *Pool {
	p := &Pool{
		maxPerServer:       4,
		idleCheckInterval:  30 * time.Second,
		terminateIdleAfter: 2 * time.Minute,
		shutdownGrace:      10 * time.Second,
		logger:             log.New(os.Stderr, "[pool] ", log.LstdFlags),
		idle:               make(map[string][]*GRPCConnection),
		inUse:              make(map[string]int),
		waiters:            make(map[string][]chan struct{}),
		stopSweep:          make(chan struct{}),
		sweepDone:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.sweepLoop()
	return p
}

// Acquire returns an exclusively-held connection to params.Address: an
// idle one if available, a freshly dialed one if under the per-server
// limit, otherwise it blocks until Release frees a slot or ctx is done.
func (p *Pool) Acquire(ctx context.Context, params DialParams) (Connection, error) {
	addr := params.Address
	for {
		p.mu.Lock()
		if idle := p.idle[addr]; len(idle) > 0 {
			gc := idle[len(idle)-1]
			p.idle[addr] = idle[:len(idle)-1]
			p.inUse[addr]++
			p.mu.Unlock()
			gc.touch()
			return gc, nil
		}
		if p.inUse[addr]+len(p.idle[addr]) < p.maxPerServer {
			gc, err := p.dial(params)
			if err != nil {
				p.mu.Unlock()
				return nil, verrors.Wrap(verrors.Transport, "dial failed", err)
			}
			p.inUse[addr]++
			p.mu.Unlock()
			return gc, nil
		}
		wait := make(chan struct{})
		p.waiters[addr] = append(p.waiters[addr], wait)
		p.mu.Unlock()

		select {
		case <-wait:
			// A slot was released; loop around to claim it.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) dial(params DialParams) (*GRPCConnection, error) {
	creds := params.TLS
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, params.DialOpts...)
	conn, err := grpc.NewClient(params.Address, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCConnection{addr: params.Address, conn: conn, lastUsed: time.Now()}, nil
}

// Release returns c to the pool's idle set. It does not close the
// underlying transport; the idle sweeper closes connections that stay
// unused past terminateIdleConnectionTimeout. Wakes the oldest parked
// Acquire waiter for this address, if any.
func (p *Pool) Release(c Connection) {
	gc, ok := c.(*GRPCConnection)
	if !ok {
		return
	}
	gc.touch()

	p.mu.Lock()
	defer p.mu.Unlock()
	addr := gc.addr
	if p.inUse[addr] > 0 {
		p.inUse[addr]--
	}
	p.idle[addr] = append(p.idle[addr], gc)

	if waiters := p.waiters[addr]; len(waiters) > 0 {
		w := waiters[0]
		p.waiters[addr] = waiters[1:]
		close(w)
	}
}

func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	t := time.NewTicker(p.idleCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-t.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.terminateIdleAfter)
	for addr, conns := range p.idle {
		kept := conns[:0]
		for _, c := range conns {
			if c.idleSince().Before(cutoff) {
				if err := c.conn.Close(); err != nil {
					p.logger.Printf("error closing idle connection to %s: %v", addr, err)
				}
				continue
			}
			kept = append(kept, c)
		}
		p.idle[addr] = kept
	}
}

// Shutdown stops the idle sweeper, closes every idle connection, and wakes
// parked Acquire waiters. It waits at most the configured grace period for
// the closes and returns the context error if that period elapses first.
// Connections currently held by callers are not tracked and are not
// closed; only connections that were Released before Shutdown are.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.stopSweep)
	<-p.sweepDone

	grace, cancel := context.WithTimeout(ctx, p.shutdownGrace)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for addr, conns := range p.idle {
		for _, c := range conns {
			if err := closeWithGrace(grace, c.conn); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing connection to %s: %w", addr, err)
			}
		}
		delete(p.idle, addr)
	}
	for _, waiters := range p.waiters {
		for _, w := range waiters {
			close(w)
		}
	}
	p.waiters = make(map[string][]chan struct{})
	return firstErr
}

func closeWithGrace(ctx context.Context, conn *grpc.ClientConn) error {
	done := make(chan error, 1)
	go func() { done <- conn.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
