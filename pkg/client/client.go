// Copyright 2025 Certen Protocol

// Package client implements the verification core's public facade of
// SPEC_FULL.md §4.5/§4.6: verified operations that run every returned
// proof through pkg/proof and pkg/digest before trusting the result, and
// non-verified operations that pass results through with server-error
// mapping only. Styled on the teacher's pkg/database.Client (functional
// options, a prefixed *log.Logger, a small Builder constructing the
// wired-up collaborators).
package client

import (
	"context"
	"crypto/ecdsa"
	"log"
	"os"
	"sync"

	"github.com/certen/verikv/pkg/metrics"
	"github.com/certen/verikv/pkg/pool"
	"github.com/certen/verikv/pkg/session"
	"github.com/certen/verikv/pkg/statestore"
	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/txlog"
)

// Client is the verification core's entry point: one active session
// against one server address, a trusted-state holder scoped to that
// deployment, and an injected transport.RPC seam.
type Client struct {
	rpc     transport.RPC
	pool    *pool.Pool
	session *session.Manager
	holder  statestore.Holder
	metrics *metrics.Registry
	logger  *log.Logger

	serverAddress   string
	deploymentKey   string
	checkDeployment bool
	pubKey          *ecdsa.PublicKey

	// mu serializes steps 2-10 of a verified operation against a given
	// session, per SPEC_FULL.md §5's ordering guarantee: the trusted-state
	// update is atomic and publish only advances state forward.
	mu sync.Mutex
}

// Builder collects configuration and constructs a Client, following the
// teacher's database.NewClient(cfg, opts...) shape.
type Builder struct {
	serverAddress   string
	rpc             transport.RPC
	holder          statestore.Holder
	pool            *pool.Pool
	pubKey          *ecdsa.PublicKey
	checkDeployment bool
	logger          *log.Logger
	metrics         *metrics.Registry
	sessionOpts     []session.Option
}

// NewBuilder creates a Builder for a client dialing serverAddress and
// issuing RPCs through rpc.
func NewBuilder(serverAddress string, rpc transport.RPC) *Builder {
	return &Builder{
		serverAddress:   serverAddress,
		rpc:             rpc,
		holder:          statestore.NewMemoryHolder(),
		checkDeployment: true,
		logger:          log.New(os.Stderr, "[client] ", log.LstdFlags),
	}
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStateHolder overrides the default in-memory state holder.
func WithStateHolder(h statestore.Holder) BuilderOption {
	return func(b *Builder) { b.holder = h }
}

// WithPool sets the connection pool. Without it, Build creates a new pool
// for each client.
func WithPool(p *pool.Pool) BuilderOption {
	return func(b *Builder) { b.pool = p }
}

// WithSigningKey sets the public key used to verify server state
// signatures (§4.1). Without one, signature checks are skipped — callers
// that need signed-state assurance must provide it.
func WithSigningKey(pub *ecdsa.PublicKey) BuilderOption {
	return func(b *Builder) { b.pubKey = pub }
}

// WithDeploymentCheck toggles the deployment-info divergence check (on by
// default).
func WithDeploymentCheck(enabled bool) BuilderOption {
	return func(b *Builder) { b.checkDeployment = enabled }
}

// WithLogger overrides the client's logger.
func WithLogger(l *log.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

// WithSessionOptions forwards options to the underlying session.Manager.
func WithSessionOptions(opts ...session.Option) BuilderOption {
	return func(b *Builder) { b.sessionOpts = append(b.sessionOpts, opts...) }
}

// Build applies opts and constructs a Client.
func Build(serverAddress string, rpc transport.RPC, opts ...BuilderOption) *Client {
	b := NewBuilder(serverAddress, rpc)
	for _, opt := range opts {
		opt(b)
	}
	p := b.pool
	if p == nil {
		p = pool.New(pool.WithLogger(b.logger))
	}
	m := b.metrics
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Client{
		rpc:             rpc,
		pool:            p,
		session:         session.NewManager(rpc, b.sessionOpts...),
		holder:          b.holder,
		metrics:         m,
		logger:          b.logger,
		serverAddress:   serverAddress,
		deploymentKey:   statestore.DeploymentKey(serverAddress),
		checkDeployment: b.checkDeployment,
		pubKey:          b.pubKey,
	}
}

// Open establishes a session, per SPEC_FULL.md §4.4.
func (c *Client) Open(ctx context.Context, user, password, db string) error {
	sess, err := c.session.Open(ctx, user, password, db)
	if err != nil {
		return err
	}
	if c.checkDeployment {
		if err := statestore.CheckDeployment(c.holder, c.deploymentKey, sess.ServerUUID); err != nil {
			_ = c.session.Close(ctx)
			return err
		}
	}
	return nil
}

// Close tears down the active session.
func (c *Client) Close(ctx context.Context) error {
	return c.session.Close(ctx)
}

// HealthCheck pings the server without requiring an open session.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	return c.rpc.HealthCheck(ctx)
}

func (c *Client) header() (transport.Header, error) {
	return c.session.Header()
}

func (c *Client) db() string {
	if sess := c.session.Current(); sess != nil {
		return sess.Db
	}
	return ""
}

func (c *Client) currentState() (*txlog.ImmuState, error) {
	s, ok, err := c.holder.Get(c.deploymentKey, c.db())
	if err != nil {
		return nil, err
	}
	if !ok {
		return &txlog.ImmuState{Db: c.db()}, nil
	}
	return s, nil
}

func (c *Client) observeVerification(check string, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveVerification(check, ok)
	}
}

// publish stores newState if it legitimately advances (or matches) the
// currently trusted state, implementing SPEC_FULL.md §5's "publish only if
// no earlier publish has moved state past targetId" guarantee. Caller
// must hold c.mu.
func (c *Client) publish(newState *txlog.ImmuState) error {
	cur, err := c.currentState()
	if err != nil {
		return err
	}
	if newState.TxID < cur.TxID {
		// A concurrent verified op already advanced past this point; the
		// state we just verified is still valid, just stale to publish.
		return nil
	}
	if err := c.holder.Set(c.deploymentKey, c.db(), newState); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.StateAdvances.Inc()
	}
	return nil
}

