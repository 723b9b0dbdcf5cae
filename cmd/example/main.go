// Copyright 2025 Certen Protocol

// Command example demonstrates wiring and driving a verikv client end to
// end: load config, dial a pool, open a session, run a verified write and
// a verified read, and tear down cleanly. Mirrors the shape of
// accumulate-lite-client-2/liteclient/examples/bpt_fetch.go (flag-driven,
// prints progress as it goes) adapted to this module's Builder/Open/Close
// lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"

	"github.com/certen/verikv/pkg/client"
	"github.com/certen/verikv/pkg/pool"
	"github.com/certen/verikv/pkg/session"
	"github.com/certen/verikv/pkg/statestore"
	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/txlog"
	"github.com/certen/verikv/pkg/verrors"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (optional)")
		server     = flag.String("server", "localhost:3322", "server address")
		user       = flag.String("user", "immudb", "login user")
		password   = flag.String("password", "immudb", "login password")
		db         = flag.String("db", "defaultdb", "database name")
		stateDir   = flag.String("state-dir", "", "directory for persisted trusted state (empty uses in-memory)")
		key        = flag.String("key", "example-key", "key to write and verify")
		value      = flag.String("value", "example-value", "value to write")
	)
	flag.Parse()

	cfg := client.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = client.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if *server != "" {
		cfg.ServerAddress = *server
	}

	logger := log.New(os.Stdout, "[example] ", log.LstdFlags)

	p := pool.New(
		pool.WithMaxConnectionsPerServer(cfg.MaxConnectionsPerServer),
		pool.WithIdleConnectionCheckInterval(cfg.IdleConnectionCheck),
		pool.WithTerminateIdleConnectionTimeout(cfg.TerminateIdleConnection),
		pool.WithShutdownGracePeriod(cfg.ShutdownGracePeriod),
		pool.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := p.Acquire(ctx, pool.DialParams{Address: cfg.ServerAddress})
	if err != nil {
		log.Fatalf("acquiring connection: %v", err)
	}
	gc, err := pool.RPCOrReleased(conn)
	if err != nil {
		log.Fatalf("connection not usable: %v", err)
	}
	rpc := newRPCClient(gc)

	opts := []client.BuilderOption{
		client.WithPool(p),
		client.WithDeploymentCheck(cfg.CheckDeployment),
		client.WithLogger(logger),
		client.WithSessionOptions(session.WithKeepaliveInterval(cfg.KeepaliveInterval)),
	}
	if *stateDir != "" {
		holder, err := statestore.NewFileHolder(*stateDir)
		if err != nil {
			log.Fatalf("opening state directory: %v", err)
		}
		opts = append(opts, client.WithStateHolder(holder))
	}

	c := client.Build(cfg.ServerAddress, rpc, opts...)

	logger.Printf("opening session to %s as %s/%s", cfg.ServerAddress, *user, *db)
	if err := c.Open(ctx, *user, *password, *db); err != nil {
		log.Fatalf("opening session: %v", err)
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			logger.Printf("closing session: %v", err)
		}
	}()

	logger.Printf("verified set %q = %q", *key, *value)
	th, err := c.VerifiedSet(ctx, []byte(*key), []byte(*value), nil)
	if err != nil {
		log.Fatalf("verified set: %v", err)
	}
	logger.Printf("committed at tx %d", th.ID)

	entry, err := c.VerifiedGet(ctx, []byte(*key), 0)
	if err != nil {
		log.Fatalf("verified get: %v", err)
	}
	fmt.Printf("%s = %s (tx %d)\n", *key, entry.Value, entry.Tx)
}

// newRPCClient wires a transport.RPC over conn. pkg/transport deliberately
// stops at the interface (generated protobuf stubs are out of scope here);
// unboundRPC is the seam where a real server's generated client plugs in.
func newRPCClient(conn *grpc.ClientConn) transport.RPC {
	return unboundRPC{conn: conn}
}

// unboundRPC satisfies transport.RPC without a wire implementation behind
// it, so this example compiles and demonstrates the client/pool/session
// wiring shape without depending on any particular server's protobuf
// client. Every call fails with verrors.Transport.
type unboundRPC struct {
	conn *grpc.ClientConn
}

func (u unboundRPC) unbound() error {
	return verrors.New(verrors.Transport, "unboundRPC: bind pkg/transport.RPC to your server's generated protobuf client")
}

func (u unboundRPC) Login(ctx context.Context, req transport.LoginRequest) (transport.LoginResponse, error) {
	return transport.LoginResponse{}, u.unbound()
}
func (u unboundRPC) Logout(ctx context.Context, hdr transport.Header) error    { return u.unbound() }
func (u unboundRPC) Keepalive(ctx context.Context, hdr transport.Header) error { return u.unbound() }
func (u unboundRPC) CurrentState(ctx context.Context, hdr transport.Header) (transport.ImmutableState, error) {
	return transport.ImmutableState{}, u.unbound()
}
func (u unboundRPC) VerifiableGet(ctx context.Context, hdr transport.Header, req transport.VerifiableGetRequest) (transport.VerifiableEntry, error) {
	return transport.VerifiableEntry{}, u.unbound()
}
func (u unboundRPC) VerifiableSet(ctx context.Context, hdr transport.Header, req transport.VerifiableSetRequest) (transport.VerifiableTx, error) {
	return transport.VerifiableTx{}, u.unbound()
}
func (u unboundRPC) VerifiableSetReference(ctx context.Context, hdr transport.Header, req transport.SetReferenceRequest, proveSinceTx uint64) (transport.VerifiableTx, error) {
	return transport.VerifiableTx{}, u.unbound()
}
func (u unboundRPC) VerifiableZAdd(ctx context.Context, hdr transport.Header, req transport.ZAddRequest, proveSinceTx uint64) (transport.VerifiableTx, error) {
	return transport.VerifiableTx{}, u.unbound()
}
func (u unboundRPC) VerifiableTxByID(ctx context.Context, hdr transport.Header, req transport.VerifiableTxRequest) (transport.VerifiableTx, error) {
	return transport.VerifiableTx{}, u.unbound()
}
func (u unboundRPC) Get(ctx context.Context, hdr transport.Header, req transport.KeyRequest) (txlog.Entry, error) {
	return txlog.Entry{}, u.unbound()
}
func (u unboundRPC) GetAll(ctx context.Context, hdr transport.Header, keys [][]byte) ([]txlog.Entry, error) {
	return nil, u.unbound()
}
func (u unboundRPC) Scan(ctx context.Context, hdr transport.Header, req transport.ScanRequest) ([]txlog.Entry, error) {
	return nil, u.unbound()
}
func (u unboundRPC) ZScan(ctx context.Context, hdr transport.Header, req transport.ZScanRequest) ([]txlog.Entry, error) {
	return nil, u.unbound()
}
func (u unboundRPC) History(ctx context.Context, hdr transport.Header, req transport.HistoryRequest) ([]txlog.Entry, error) {
	return nil, u.unbound()
}
func (u unboundRPC) TxScan(ctx context.Context, hdr transport.Header, req transport.TxScanRequest) ([]txlog.TxHeader, error) {
	return nil, u.unbound()
}
func (u unboundRPC) TxByID(ctx context.Context, hdr transport.Header, req transport.TxRequest) (txlog.Tx, error) {
	return txlog.Tx{}, u.unbound()
}
func (u unboundRPC) Set(ctx context.Context, hdr transport.Header, req transport.SetRequest) (txlog.TxHeader, error) {
	return txlog.TxHeader{}, u.unbound()
}
func (u unboundRPC) SetAll(ctx context.Context, hdr transport.Header, req transport.SetRequest) (txlog.TxHeader, error) {
	return txlog.TxHeader{}, u.unbound()
}
func (u unboundRPC) Delete(ctx context.Context, hdr transport.Header, key []byte) (txlog.TxHeader, error) {
	return txlog.TxHeader{}, u.unbound()
}
func (u unboundRPC) ZAdd(ctx context.Context, hdr transport.Header, req transport.ZAddRequest) (txlog.TxHeader, error) {
	return txlog.TxHeader{}, u.unbound()
}
func (u unboundRPC) HealthCheck(ctx context.Context) (bool, error) { return false, u.unbound() }

var _ transport.RPC = unboundRPC{}
