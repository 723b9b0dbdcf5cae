// Copyright 2025 Certen Protocol

// Package transport defines the wire message shapes of SPEC_FULL.md §6 and
// the RPC seam the core verifies against. Generated gRPC stubs are
// explicitly out of scope (spec.md §1): RPC is the interface any
// concrete stub (or a hand-rolled one, or a fake in tests) must satisfy.
// pkg/pool owns the *grpc.ClientConn values; this module contains no RPC
// implementation over them.
package transport

import (
	"context"

	"github.com/certen/verikv/pkg/proof"
	"github.com/certen/verikv/pkg/txlog"
)

// KeyRequest requests a single key, optionally pinned to a tx/revision.
type KeyRequest struct {
	Key        []byte
	AtTx       uint64
	SinceTx    uint64
	AtRevision int64
	NoWait     bool
}

// VerifiableGetRequest is a KeyRequest plus the point the client last
// trusted, so the server can prove everything committed since.
type VerifiableGetRequest struct {
	KeyRequest    KeyRequest
	ProveSinceTx  uint64
}

// VerifiableEntry is the server's response to a VerifiableGetRequest.
type VerifiableEntry struct {
	Entry           txlog.Entry
	VerifiableTx    VerifiableTx
	InclusionProof  proof.InclusionProof
}

// SetRequest submits one or more key/value writes.
type SetRequest struct {
	KVs []KV
}

// KV is one key/value/metadata triple to write.
type KV struct {
	Key      []byte
	Value    []byte
	Metadata *txlog.EntryMetadata
}

// VerifiableSetRequest is a SetRequest plus the point the client last
// trusted.
type VerifiableSetRequest struct {
	SetRequest   SetRequest
	ProveSinceTx uint64
}

// VerifiableTx bundles a committed transaction with the dual proof
// establishing it legitimately extends the log, plus an optional
// server signature over the resulting state.
type VerifiableTx struct {
	Tx        txlog.Tx
	DualProof proof.DualProof
	Signature []byte
}

// ZAddRequest adds a scored member to a sorted set, optionally bound to a
// specific referenced transaction.
type ZAddRequest struct {
	Set     []byte
	Key     []byte
	AtTx    uint64
	Score   float64
	BoundRef bool
}

// SetReferenceRequest creates an alias key pointing at an existing key.
type SetReferenceRequest struct {
	Key      []byte
	Referenced []byte
	AtTx     uint64
}

// ScanRequest/ZScanRequest/HistoryRequest/TxScanRequest/TxRequest are
// plain, non-verified query shapes (§4.6).
type ScanRequest struct {
	Prefix  []byte
	SeekKey []byte
	Limit   int64
	Desc    bool
	SinceTx uint64
}

type ZScanRequest struct {
	Set     []byte
	SeekKey []byte
	Limit   int64
	Reverse bool
	SinceTx uint64
}

type HistoryRequest struct {
	Key     []byte
	Offset  uint64
	Limit   int
	Desc    bool
	SinceTx uint64
}

type TxScanRequest struct {
	InitialTx uint64
	Limit     int
	Desc      bool
}

type TxRequest struct {
	Tx uint64
}

// VerifiableTxRequest is a TxRequest plus the point the client last
// trusted, for verified txById.
type VerifiableTxRequest struct {
	Tx           uint64
	ProveSinceTx uint64
}

// ImmutableState is the wire shape of the server's currentState response.
type ImmutableState struct {
	Db        string
	TxID      uint64
	TxHash    [32]byte
	Signature []byte
}

// LoginRequest/LoginResponse are the session-establishment RPC shapes.
type LoginRequest struct {
	User     string
	Password string
	Db       string
}

type LoginResponse struct {
	Token      string
	ServerUUID string
}

// Header is attached to every RPC once a session is active; Token carries
// the "authorization: <session-token>" value from SPEC_FULL.md §6.
type Header struct {
	Token string
}

// RPC is the transport-level contract the core depends on. Deliberately
// narrow: it names only the operations the verification core and the
// facade need, not a full generated client surface.
type RPC interface {
	Login(ctx context.Context, req LoginRequest) (LoginResponse, error)
	Logout(ctx context.Context, hdr Header) error
	Keepalive(ctx context.Context, hdr Header) error

	CurrentState(ctx context.Context, hdr Header) (ImmutableState, error)

	VerifiableGet(ctx context.Context, hdr Header, req VerifiableGetRequest) (VerifiableEntry, error)
	VerifiableSet(ctx context.Context, hdr Header, req VerifiableSetRequest) (VerifiableTx, error)
	VerifiableSetReference(ctx context.Context, hdr Header, req SetReferenceRequest, proveSinceTx uint64) (VerifiableTx, error)
	VerifiableZAdd(ctx context.Context, hdr Header, req ZAddRequest, proveSinceTx uint64) (VerifiableTx, error)
	VerifiableTxByID(ctx context.Context, hdr Header, req VerifiableTxRequest) (VerifiableTx, error)

	Get(ctx context.Context, hdr Header, req KeyRequest) (txlog.Entry, error)
	GetAll(ctx context.Context, hdr Header, keys [][]byte) ([]txlog.Entry, error)
	Scan(ctx context.Context, hdr Header, req ScanRequest) ([]txlog.Entry, error)
	ZScan(ctx context.Context, hdr Header, req ZScanRequest) ([]txlog.Entry, error)
	History(ctx context.Context, hdr Header, req HistoryRequest) ([]txlog.Entry, error)
	TxScan(ctx context.Context, hdr Header, req TxScanRequest) ([]txlog.TxHeader, error)
	TxByID(ctx context.Context, hdr Header, req TxRequest) (txlog.Tx, error)
	Set(ctx context.Context, hdr Header, req SetRequest) (txlog.TxHeader, error)
	SetAll(ctx context.Context, hdr Header, req SetRequest) (txlog.TxHeader, error)
	Delete(ctx context.Context, hdr Header, key []byte) (txlog.TxHeader, error)
	ZAdd(ctx context.Context, hdr Header, req ZAddRequest) (txlog.TxHeader, error)

	HealthCheck(ctx context.Context) (bool, error)
}
