// Copyright 2025 Certen Protocol

// Package statestore implements the state holder of SPEC_FULL.md §4.3: the
// authoritative, concurrency-safe owner of the client's last-trusted
// ImmuState per (deployment key, db), plus the deployment-info divergence
// check. This file provides two backends, matching §4.3's "persistence is
// pluggable": an in-memory Holder and a file-backed Holder with a
// fixed-width record layout and atomic rename on update; sql.go adds a
// Postgres-backed SQLHolder.
package statestore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/certen/verikv/pkg/txlog"
	"github.com/certen/verikv/pkg/verrors"
)

// DeploymentKey derives the short, filesystem-safe key scoping stored
// state to a server address: the first 16 hex characters of
// SHA256(address).
func DeploymentKey(serverAddress string) string {
	sum := sha256.Sum256([]byte(serverAddress))
	return hex.EncodeToString(sum[:8])
}

// Holder is the state holder contract: safe for concurrent access, reads
// return a snapshot, writes are atomic with respect to concurrent reads.
type Holder interface {
	Get(deploymentKey, db string) (*txlog.ImmuState, bool, error)
	Set(deploymentKey, db string, state *txlog.ImmuState) error

	// ServerUUID/SetServerUUID implement the deployment-info check: the
	// first serverUUID seen for a deploymentKey is recorded, and later
	// divergence must fail the operation rather than overwrite trust.
	ServerUUID(deploymentKey string) (string, bool, error)
	SetServerUUID(deploymentKey, serverUUID string) error
}

// CheckDeployment enforces SPEC_FULL.md §4.3's deployment-info check: if a
// serverUUID was previously recorded for deploymentKey and observedUUID
// diverges, returns DeploymentMismatch without recording anything. On
// first sight, records observedUUID and returns nil.
func CheckDeployment(h Holder, deploymentKey, observedUUID string) error {
	if observedUUID == "" {
		return nil
	}
	prev, ok, err := h.ServerUUID(deploymentKey)
	if err != nil {
		return err
	}
	if !ok {
		return h.SetServerUUID(deploymentKey, observedUUID)
	}
	if prev != observedUUID {
		return verrors.Newf(verrors.DeploymentMismatch, "server uuid %q does not match previously seen %q for this deployment", observedUUID, prev)
	}
	return nil
}

// --- in-memory backend -----------------------------------------------------

type memKey struct {
	deploymentKey string
	db            string
}

// MemoryHolder is the in-memory Holder variant.
type MemoryHolder struct {
	mu     sync.RWMutex
	states map[memKey]txlog.ImmuState
	uuids  map[string]string
}

// NewMemoryHolder creates an empty in-memory Holder.
func NewMemoryHolder() *MemoryHolder {
	return &MemoryHolder{
		states: make(map[memKey]txlog.ImmuState),
		uuids:  make(map[string]string),
	}
}

func (h *MemoryHolder) Get(deploymentKey, db string) (*txlog.ImmuState, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.states[memKey{deploymentKey, db}]
	if !ok {
		return nil, false, nil
	}
	cp := s
	return &cp, true, nil
}

func (h *MemoryHolder) Set(deploymentKey, db string, state *txlog.ImmuState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[memKey{deploymentKey, db}] = *state
	return nil
}

func (h *MemoryHolder) ServerUUID(deploymentKey string) (string, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.uuids[deploymentKey]
	return u, ok, nil
}

func (h *MemoryHolder) SetServerUUID(deploymentKey, serverUUID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uuids[deploymentKey] = serverUUID
	return nil
}

// --- file-backed backend ----------------------------------------------------

// recordSize is the fixed-width layout: txID(8) || txHash(32) ||
// sigLen(1) || signature(maxSigBytes, zero-padded).
const maxSigBytes = 72
const recordSize = 8 + 32 + 1 + maxSigBytes

// FileHolder persists state under dir, one small fixed-width record per
// (deploymentKey, db), written via a temp file + atomic rename. A
// deployment-info file records the first serverUUID seen per
// deploymentKey.
type FileHolder struct {
	mu  sync.Mutex
	dir string
}

// NewFileHolder creates a FileHolder rooted at dir, creating it if
// necessary.
func NewFileHolder(dir string) (*FileHolder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("statestore: creating dir: %w", err)
	}
	return &FileHolder{dir: dir}, nil
}

func (h *FileHolder) statePath(deploymentKey, db string) string {
	return filepath.Join(h.dir, fmt.Sprintf("state_%s_%s.bin", deploymentKey, db))
}

func (h *FileHolder) uuidPath(deploymentKey string) string {
	return filepath.Join(h.dir, fmt.Sprintf("deployment_%s.uuid", deploymentKey))
}

func (h *FileHolder) Get(deploymentKey, db string) (*txlog.ImmuState, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.statePath(deploymentKey, db))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statestore: reading state: %w", err)
	}
	if len(data) != recordSize {
		return nil, false, verrors.New(verrors.CorruptedData, "state record has wrong size")
	}

	txID := binary.BigEndian.Uint64(data[0:8])
	var txHash [32]byte
	copy(txHash[:], data[8:40])
	sigLen := int(data[40])
	if sigLen > maxSigBytes {
		return nil, false, verrors.New(verrors.CorruptedData, "state record signature length out of range")
	}
	sig := make([]byte, sigLen)
	copy(sig, data[41:41+sigLen])

	return &txlog.ImmuState{Db: db, TxID: txID, TxHash: txHash, Signature: sig}, true, nil
}

func (h *FileHolder) Set(deploymentKey, db string, state *txlog.ImmuState) error {
	if len(state.Signature) > maxSigBytes {
		return verrors.New(verrors.CorruptedData, "signature exceeds fixed-width record capacity")
	}

	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], state.TxID)
	copy(buf[8:40], state.TxHash[:])
	buf[40] = byte(len(state.Signature))
	copy(buf[41:41+len(state.Signature)], state.Signature)

	h.mu.Lock()
	defer h.mu.Unlock()
	return atomicWrite(h.statePath(deploymentKey, db), buf)
}

func (h *FileHolder) ServerUUID(deploymentKey string) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := os.ReadFile(h.uuidPath(deploymentKey))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statestore: reading deployment info: %w", err)
	}
	return string(data), true, nil
}

func (h *FileHolder) SetServerUUID(deploymentKey, serverUUID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return atomicWrite(h.uuidPath(deploymentKey), []byte(serverUUID))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("statestore: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("statestore: renaming into place: %w", err)
	}
	return nil
}
