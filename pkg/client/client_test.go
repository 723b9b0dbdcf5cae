// Copyright 2025 Certen Protocol

package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/verikv/pkg/digest"
	"github.com/certen/verikv/pkg/proof"
	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/txlog"
	"github.com/certen/verikv/pkg/verrors"
)

// fakeLedger is an in-process, single-writer implementation of
// transport.RPC that builds real transactions (real Eh roots, real Alh
// chaining, real dual proofs) so the facade's verification path runs
// against honest data, matching the end-to-end scenarios of §8.
type fakeLedger struct {
	txs      []*txlog.Tx
	byKey    map[string]int // latest tx index holding this key (by bound key)
	values   map[string][]byte
	loginErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byKey: make(map[string]int)}
}

func (f *fakeLedger) commit(entries []transport.KV) txlog.Tx {
	txEntries := make([]txlog.TxEntry, len(entries))
	for i, kv := range entries {
		hv := sha256.Sum256(kv.Value)
		txEntries[i] = txlog.TxEntry{Key: kv.Key, HValue: hv, VLen: int32(len(kv.Value)), Metadata: kv.Metadata}
	}
	return f.commitEntries(txEntries)
}

// commitEntries is the shared tail of commit and VerifiableSetReference: it
// builds the header (prevAlh chaining, entry-tree root) and appends the
// transaction.
func (f *fakeLedger) commitEntries(txEntries []txlog.TxEntry) txlog.Tx {
	id := uint64(len(f.txs) + 1)
	var prevAlh [32]byte
	if len(f.txs) > 0 {
		prevAlh, _ = digest.Alh(&f.txs[len(f.txs)-1].Header)
	}

	digests := make([][32]byte, len(txEntries))
	for i := range txEntries {
		d, err := digest.EntryDigest(&txEntries[i], txlog.HeaderVersion1)
		if err != nil {
			panic(err)
		}
		digests[i] = d
	}
	eh := foldLeaves(digests)

	h := txlog.TxHeader{
		ID:       id,
		PrevAlh:  prevAlh,
		NEntries: int32(len(txEntries)),
		Eh:       eh,
		Version:  txlog.HeaderVersion1,
		Metadata: []byte{},
	}
	tx := txlog.Tx{Header: h, Entries: txEntries}
	f.txs = append(f.txs, &tx)

	for _, e := range txEntries {
		f.byKey[string(e.Key)] = len(f.txs) - 1
	}
	return tx
}

// foldLeaves mirrors the duplicate-last-on-odd tree pkg/proof verifies
// against.
func foldLeaves(leaves [][32]byte) [32]byte {
	level := append([][32]byte{}, leaves...)
	if len(level) == 0 {
		return sha256.Sum256(nil)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		var next [][32]byte
		for i := 0; i < len(level); i += 2 {
			buf := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
			next = append(next, sha256.Sum256(buf))
		}
		level = next
	}
	return level[0]
}

func inclusionTermsFor(leaves [][32]byte, index int) [][32]byte {
	level := append([][32]byte{}, leaves...)
	idx := index
	var terms [][32]byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if idx%2 == 0 {
			terms = append(terms, level[idx+1])
		} else {
			terms = append(terms, level[idx-1])
		}
		var next [][32]byte
		for i := 0; i < len(level); i += 2 {
			buf := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
			next = append(next, sha256.Sum256(buf))
		}
		level = next
		idx /= 2
	}
	return terms
}

func (f *fakeLedger) dualProofBetween(sourceID, targetID uint64) proof.DualProof {
	var sh, th txlog.TxHeader
	if sourceID > 0 {
		sh = f.txs[sourceID-1].Header
	}
	if targetID > 0 {
		th = f.txs[targetID-1].Header
	}
	// All fixtures in these tests keep blTxId at 0, so the dual proof
	// degenerates to a pure linear chain from source to target.
	var terms [][32]byte
	for id := sourceID + 1; id <= targetID; id++ {
		terms = append(terms, innerHashOf(&f.txs[id-1].Header))
	}
	return proof.DualProof{
		SourceTxHeader: sh,
		TargetTxHeader: th,
		LinearProof:    proof.LinearProof{SourceTxID: sourceID, TargetTxID: targetID, Terms: terms},
	}
}

// innerHashOf reconstructs header version 1's inner-inner-then-outer fold,
// matching pkg/digest's private innerHash exactly (kept in sync manually,
// since a linear proof term IS that inner hash).
func innerHashOf(h *txlog.TxHeader) [32]byte {
	innerBuf := append([]byte{}, beUint16(uint16(h.Version))...)
	innerBuf = append(innerBuf, h.Metadata...)
	innerBuf = append(innerBuf, beUint32(uint32(h.NEntries))...)
	innerBuf = append(innerBuf, h.Eh[:]...)
	innerInner := sha256.Sum256(innerBuf)

	buf := append([]byte{}, beUint64(uint64(h.Timestamp))...)
	buf = append(buf, beUint64(h.BlTxID)...)
	buf = append(buf, h.BlRoot[:]...)
	buf = append(buf, innerInner[:]...)
	return sha256.Sum256(buf)
}

func beUint16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func beUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
func beUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
	return b
}

func (f *fakeLedger) Login(ctx context.Context, req transport.LoginRequest) (transport.LoginResponse, error) {
	if f.loginErr != nil {
		return transport.LoginResponse{}, f.loginErr
	}
	return transport.LoginResponse{Token: "tok-" + req.User, ServerUUID: "srv-fixed"}, nil
}
func (f *fakeLedger) Logout(ctx context.Context, hdr transport.Header) error   { return nil }
func (f *fakeLedger) Keepalive(ctx context.Context, hdr transport.Header) error { return nil }
func (f *fakeLedger) CurrentState(ctx context.Context, hdr transport.Header) (transport.ImmutableState, error) {
	return transport.ImmutableState{}, nil
}

func (f *fakeLedger) VerifiableGet(ctx context.Context, hdr transport.Header, req transport.VerifiableGetRequest) (transport.VerifiableEntry, error) {
	idx, ok := f.byKey[string(req.KeyRequest.Key)]
	if !ok {
		return transport.VerifiableEntry{}, errKeyNotFound
	}
	tx := f.txs[idx]
	var entryIdx int
	var te txlog.TxEntry
	for i, e := range tx.Entries {
		if string(e.Key) == string(req.KeyRequest.Key) {
			entryIdx = i
			te = e
			break
		}
	}
	leafDigests := make([][32]byte, len(tx.Entries))
	for i, e := range tx.Entries {
		d, _ := digest.EntryDigest(&e, tx.Header.Version)
		leafDigests[i] = d
	}
	terms := inclusionTermsFor(leafDigests, entryIdx)

	entry := txlog.Entry{Tx: tx.Header.ID, Key: te.Key, Value: nil, Metadata: te.Metadata}
	// Reconstruct the value from hValue is impossible; tests set Value via
	// a side channel (values) since hValue is one-way.
	entry.Value = f.valueFor(req.KeyRequest.Key)

	vtx := transport.VerifiableTx{Tx: *tx, DualProof: f.dualProofBetween(req.ProveSinceTx, tx.Header.ID)}
	return transport.VerifiableEntry{
		Entry:          entry,
		VerifiableTx:   vtx,
		InclusionProof: proof.InclusionProof{Leaf: entryIdx, Width: len(tx.Entries), Terms: terms},
	}, nil
}

func (f *fakeLedger) valueFor(key []byte) []byte {
	if v, ok := f.values[string(key)]; ok {
		return v
	}
	return nil
}

func (f *fakeLedger) VerifiableSet(ctx context.Context, hdr transport.Header, req transport.VerifiableSetRequest) (transport.VerifiableTx, error) {
	if f.values == nil {
		f.values = make(map[string][]byte)
	}
	for _, kv := range req.SetRequest.KVs {
		f.values[string(kv.Key)] = kv.Value
	}
	tx := f.commit(req.SetRequest.KVs)
	return transport.VerifiableTx{Tx: tx, DualProof: f.dualProofBetween(req.ProveSinceTx, tx.Header.ID)}, nil
}

func (f *fakeLedger) VerifiableSetReference(ctx context.Context, hdr transport.Header, req transport.SetReferenceRequest, proveSinceTx uint64) (transport.VerifiableTx, error) {
	if f.values == nil {
		f.values = make(map[string][]byte)
	}
	referencedValue := f.valueFor(req.Referenced)
	f.values[string(req.Key)] = referencedValue
	hv := digest.ReferenceDigest(req.Referenced, req.AtTx)
	entry := txlog.TxEntry{Key: req.Key, HValue: hv, VLen: int32(len(req.Referenced))}
	tx := f.commitEntries([]txlog.TxEntry{entry})
	return transport.VerifiableTx{Tx: tx, DualProof: f.dualProofBetween(proveSinceTx, tx.Header.ID)}, nil
}

// zAddEntry builds the TxEntry a zAdd commits: no HValue, since a
// sorted-set member's verified digest is over its set/key/score/atTx
// encoding alone (pkg/digest.EntryDigest), matching VerifiedZAdd's own
// entry construction exactly.
func zAddEntry(req transport.ZAddRequest) txlog.TxEntry {
	return txlog.TxEntry{Key: req.Key, Set: req.Set, Score: req.Score, AtTx: req.AtTx}
}

func (f *fakeLedger) VerifiableZAdd(ctx context.Context, hdr transport.Header, req transport.ZAddRequest, proveSinceTx uint64) (transport.VerifiableTx, error) {
	tx := f.commitEntries([]txlog.TxEntry{zAddEntry(req)})
	return transport.VerifiableTx{Tx: tx, DualProof: f.dualProofBetween(proveSinceTx, tx.Header.ID)}, nil
}
func (f *fakeLedger) VerifiableTxByID(ctx context.Context, hdr transport.Header, req transport.VerifiableTxRequest) (transport.VerifiableTx, error) {
	tx := f.txs[req.Tx-1]
	return transport.VerifiableTx{Tx: *tx, DualProof: f.dualProofBetween(req.ProveSinceTx, tx.Header.ID)}, nil
}

func (f *fakeLedger) Get(ctx context.Context, hdr transport.Header, req transport.KeyRequest) (txlog.Entry, error) {
	return txlog.Entry{}, nil
}
func (f *fakeLedger) GetAll(ctx context.Context, hdr transport.Header, keys [][]byte) ([]txlog.Entry, error) {
	return nil, nil
}
func (f *fakeLedger) Scan(ctx context.Context, hdr transport.Header, req transport.ScanRequest) ([]txlog.Entry, error) {
	return nil, nil
}
func (f *fakeLedger) ZScan(ctx context.Context, hdr transport.Header, req transport.ZScanRequest) ([]txlog.Entry, error) {
	type scored struct {
		entry txlog.Entry
		score float64
	}
	var matches []scored
	for _, tx := range f.txs {
		for _, e := range tx.Entries {
			if !bytes.Equal(e.Set, req.Set) {
				continue
			}
			matches = append(matches, scored{
				entry: txlog.Entry{Tx: tx.Header.ID, Key: e.Key},
				score: e.Score,
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if req.Reverse {
			return matches[i].score > matches[j].score
		}
		return matches[i].score < matches[j].score
	})
	entries := make([]txlog.Entry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return entries, nil
}
func (f *fakeLedger) History(ctx context.Context, hdr transport.Header, req transport.HistoryRequest) ([]txlog.Entry, error) {
	return nil, nil
}
func (f *fakeLedger) TxScan(ctx context.Context, hdr transport.Header, req transport.TxScanRequest) ([]txlog.TxHeader, error) {
	return nil, nil
}
func (f *fakeLedger) TxByID(ctx context.Context, hdr transport.Header, req transport.TxRequest) (txlog.Tx, error) {
	return *f.txs[req.Tx-1], nil
}
func (f *fakeLedger) Set(ctx context.Context, hdr transport.Header, req transport.SetRequest) (txlog.TxHeader, error) {
	tx := f.commit(req.KVs)
	return tx.Header, nil
}
func (f *fakeLedger) SetAll(ctx context.Context, hdr transport.Header, req transport.SetRequest) (txlog.TxHeader, error) {
	tx := f.commit(req.KVs)
	return tx.Header, nil
}
func (f *fakeLedger) Delete(ctx context.Context, hdr transport.Header, key []byte) (txlog.TxHeader, error) {
	return txlog.TxHeader{}, nil
}
func (f *fakeLedger) ZAdd(ctx context.Context, hdr transport.Header, req transport.ZAddRequest) (txlog.TxHeader, error) {
	tx := f.commitEntries([]txlog.TxEntry{zAddEntry(req)})
	return tx.Header, nil
}
func (f *fakeLedger) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

var errKeyNotFound = verrors.New(verrors.KeyNotFound, "key not found")

var _ transport.RPC = (*fakeLedger)(nil)

func TestClient_LoginAndHealthCheck(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	ok, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Close(context.Background()))
}

func TestClient_VerifiedSetThenVerifiedGet(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	th, err := c.VerifiedSet(context.Background(), []byte("k"), []byte("v1"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), th.ID)

	entry, err := c.VerifiedGet(context.Background(), []byte("k"), 0)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), entry.Value)

	cur, ok, err := c.holder.Get(c.deploymentKey, "defaultdb")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), cur.TxID)
}

func TestClient_VerifiedGet_ByteMutatedProofRejected(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	_, err := c.VerifiedSet(context.Background(), []byte("k"), []byte("v1"), nil)
	require.NoError(t, err)

	// A second write moves trusted state past the entry's tx, so the
	// verifiedGet below reads history (trusted state stays the target).
	_, err = c.VerifiedSet(context.Background(), []byte("other"), []byte("x"), nil)
	require.NoError(t, err)

	// Mutate the fake server's stored tx header so the entry's inclusion
	// proof no longer reaches the header's Eh.
	orig := rpc.txs[0].Header.Eh
	rpc.txs[0].Header.Eh[0] ^= 0xFF
	_, err = c.VerifiedGet(context.Background(), []byte("k"), 0)
	require.Error(t, err)
	require.True(t, verrors.Is(err, verrors.VerificationFailed))
	rpc.txs[0].Header.Eh = orig
}

func TestClient_VerifiedGet_KeyNotFound(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	_, err := c.VerifiedGet(context.Background(), []byte("missing"), 0)
	require.Error(t, err)
	require.True(t, verrors.Is(err, verrors.KeyNotFound))
}

func TestClient_ReferenceChain(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	_, err := c.VerifiedSet(context.Background(), []byte("a"), []byte("1"), nil)
	require.NoError(t, err)
	_, err = c.VerifiedSetReference(context.Background(), []byte("b"), []byte("a"), 0)
	require.NoError(t, err)

	entry, err := c.VerifiedGet(context.Background(), []byte("b"), 0)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), entry.Value)
}

// TestClient_VerifiedZAdd_ThenZScanReverse exercises spec scenario 5:
// zAdd "s"/"a"/1.0, zAdd "s"/"b"/2.0, then zScan reverse=true must return
// [b, a]. The zAdd side runs through VerifiedZAdd end to end (real dual
// proof against fakeLedger), not just a digest-encoding check.
func TestClient_VerifiedZAdd_ThenZScanReverse(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	thA, err := c.VerifiedZAdd(context.Background(), []byte("s"), []byte("a"), 1.0, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), thA.ID)

	thB, err := c.VerifiedZAdd(context.Background(), []byte("s"), []byte("b"), 2.0, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), thB.ID)

	cur, ok, err := c.holder.Get(c.deploymentKey, "defaultdb")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), cur.TxID)

	entries, err := c.ZScan(context.Background(), transport.ZScanRequest{Set: []byte("s"), Reverse: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].Key)
	require.Equal(t, []byte("a"), entries[1].Key)

	ascending, err := c.ZScan(context.Background(), transport.ZScanRequest{Set: []byte("s")})
	require.NoError(t, err)
	require.Len(t, ascending, 2)
	require.Equal(t, []byte("a"), ascending[0].Key)
	require.Equal(t, []byte("b"), ascending[1].Key)
}

func TestClient_DeletedEntryRejected(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	defer c.Close(context.Background())

	_, err := c.VerifiedSet(context.Background(), []byte("k"), []byte("v1"), &txlog.EntryMetadata{Deleted: true})
	require.NoError(t, err)

	_, err = c.VerifiedGet(context.Background(), []byte("k"), 0)
	require.Error(t, err)
	require.True(t, verrors.Is(err, verrors.VerificationFailed))
}

func TestClient_InvalidCredentials(t *testing.T) {
	rpc := newFakeLedger()
	rpc.loginErr = verrors.New(verrors.Transport, "invalid credentials")
	c := Build("localhost:3322", rpc)
	err := c.Open(context.Background(), "bad", "creds", "defaultdb")
	require.Error(t, err)
}

func TestClient_Open_DeploymentMismatchFailsClosed(t *testing.T) {
	rpc := newFakeLedger()
	c := Build("localhost:3322", rpc)
	require.NoError(t, c.Open(context.Background(), "immudb", "immudb", "defaultdb"))
	require.NoError(t, c.Close(context.Background()))

	// A second client against the same address/holder but whose server
	// reports a different uuid must fail closed rather than overwrite
	// trust.
	divergent := &fakeLoginOnly{uuid: "srv-different"}
	c2 := Build("localhost:3322", divergent, WithStateHolder(c.holder))
	err := c2.Open(context.Background(), "immudb", "immudb", "defaultdb")
	require.Error(t, err)
	require.True(t, verrors.Is(err, verrors.DeploymentMismatch))
}

// fakeLoginOnly returns a fixed, divergent serverUuid; every other method
// comes from the embedded, empty fakeLedger (Open's failure path reaches
// only Logout).
type fakeLoginOnly struct {
	fakeLedger
	uuid string
}

func (f *fakeLoginOnly) Login(ctx context.Context, req transport.LoginRequest) (transport.LoginResponse, error) {
	return transport.LoginResponse{Token: "tok", ServerUUID: f.uuid}, nil
}

var _ transport.RPC = (*fakeLoginOnly)(nil)
