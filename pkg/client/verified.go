// Copyright 2025 Certen Protocol

package client

import (
	"context"
	"crypto/sha256"

	"github.com/certen/verikv/pkg/digest"
	"github.com/certen/verikv/pkg/proof"
	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/txlog"
	"github.com/certen/verikv/pkg/verrors"
)

// side bundles the (id, alh) pair needed on either end of a dual-proof
// check, per SPEC_FULL.md §4.5 step 6.
type side struct {
	id  uint64
	alh [32]byte
}

// chooseSides implements step 6: if the client's currently trusted state
// is at or before the entry's transaction, state advances forward and the
// entry side is the target; otherwise the entry is historical and the
// trusted state stays the target (trust anchor does not move).
func chooseSides(cur *txlog.ImmuState, entryID uint64, entryAlh [32]byte) (source, target side, forward bool) {
	if cur.TxID <= entryID {
		return side{cur.TxID, cur.TxHash}, side{entryID, entryAlh}, true
	}
	return side{entryID, entryAlh}, side{cur.TxID, cur.TxHash}, false
}

// advance runs steps 8-10: the dual-proof check (skipped when the client
// has no prior trust per §4.2's sourceId==0 tie-break), the new-state
// signature check, and the publish. Must be called with c.mu held.
func (c *Client) advance(dual *proof.DualProof, source, target side, forward bool, serverSig []byte, cur *txlog.ImmuState) error {
	if cur.TxID > 0 {
		ok, err := proof.VerifyDualProof(dual, source.id, target.id, source.alh, target.alh)
		if err != nil {
			c.observeVerification("dual-proof", false)
			return verrors.Wrap(verrors.VerificationFailed, "dual proof verification error", err).WithReason("dual-proof")
		}
		if !ok {
			c.observeVerification("dual-proof", false)
			return verrors.Verification("dual-proof")
		}
		c.observeVerification("dual-proof", true)
	}

	newState := &txlog.ImmuState{Db: c.db(), TxID: target.id, TxHash: target.alh}
	if forward {
		newState.Signature = serverSig
		if c.pubKey != nil {
			if !digest.VerifySignature(c.pubKey, newState) {
				c.observeVerification("signature", false)
				return verrors.Verification("signature")
			}
			c.observeVerification("signature", true)
		}
	} else {
		newState.Signature = cur.Signature
	}
	return c.publish(newState)
}

// bindEntry implements step 5: the returned entry's bound key must equal
// the requested key, an explicit atTx must match the entry's tx, and
// deleted entries are rejected outright.
func bindEntry(entry *txlog.Entry, requestedKey []byte, atTx uint64) error {
	bk := entry.BoundKey()
	if len(bk) != len(requestedKey) {
		return verrors.Verification("key-mismatch")
	}
	for i := range bk {
		if bk[i] != requestedKey[i] {
			return verrors.Verification("key-mismatch")
		}
	}
	if atTx != 0 && entry.Tx != atTx {
		return verrors.Verification("key-mismatch")
	}
	if entry.IsDeleted() {
		return verrors.Verification("deleted")
	}
	return nil
}

// VerifiedGet implements SPEC_FULL.md §4.5's verified read for a single
// key, optionally pinned to atTx.
func (c *Client) VerifiedGet(ctx context.Context, key []byte, atTx uint64) (*txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentState()
	if err != nil {
		return nil, err
	}

	resp, err := c.rpc.VerifiableGet(ctx, hdr, transport.VerifiableGetRequest{
		KeyRequest:   transport.KeyRequest{Key: key, AtTx: atTx},
		ProveSinceTx: cur.TxID,
	})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}

	if err := bindEntry(&resp.Entry, key, atTx); err != nil {
		c.observeVerification("binding", false)
		return nil, err
	}
	c.observeVerification("binding", true)

	entryTx := &resp.VerifiableTx.Tx
	hValue := sha256.Sum256(resp.Entry.Value)
	leaf, err := digest.LeafDigest(resp.Entry.BoundKey(), hValue, resp.Entry.Metadata, int32(len(resp.Entry.Value)), entryTx.Header.Version)
	if err != nil {
		return nil, verrors.Wrap(verrors.VerificationFailed, "computing leaf digest", err).WithReason("inclusion")
	}
	if !proof.VerifyInclusion(&resp.InclusionProof, leaf, entryTx.Header.Eh) {
		c.observeVerification("inclusion", false)
		return nil, verrors.Verification("inclusion")
	}
	c.observeVerification("inclusion", true)

	entryAlh, err := digest.Alh(&entryTx.Header)
	if err != nil {
		return nil, verrors.Wrap(verrors.VerificationFailed, "computing entry tx alh", err).WithReason("header")
	}
	source, target, forward := chooseSides(cur, entryTx.Header.ID, entryAlh)
	if err := c.advance(&resp.VerifiableTx.DualProof, source, target, forward, resp.VerifiableTx.Signature, cur); err != nil {
		return nil, err
	}

	return &resp.Entry, nil
}

// verifiedWrite is the shared tail of verifiedSet/verifiedSetReference/
// verifiedZAdd: the proof is over the just-submitted transaction, the
// facade requires nEntries == 1 (§4.5), and the committed entry's digest
// must fold directly into the transaction's entry-tree root — a
// single-entry tree has no siblings to fold against.
func (c *Client) verifiedWrite(ctx context.Context, cur *txlog.ImmuState, vtx *transport.VerifiableTx, entry *txlog.TxEntry) (*txlog.TxHeader, error) {
	if vtx.Tx.Header.NEntries != 1 {
		return nil, verrors.Verification("entry-count")
	}

	leaf, err := digest.EntryDigest(entry, vtx.Tx.Header.Version)
	if err != nil {
		return nil, verrors.Wrap(verrors.VerificationFailed, "computing submitted-entry digest", err).WithReason("inclusion")
	}
	ip := proof.InclusionProof{Leaf: 0, Width: 1}
	if !proof.VerifyInclusion(&ip, leaf, vtx.Tx.Header.Eh) {
		c.observeVerification("inclusion", false)
		return nil, verrors.Verification("inclusion")
	}
	c.observeVerification("inclusion", true)

	entryAlh, err := digest.Alh(&vtx.Tx.Header)
	if err != nil {
		return nil, verrors.Wrap(verrors.VerificationFailed, "computing committed tx alh", err).WithReason("header")
	}
	source, target, forward := chooseSides(cur, vtx.Tx.Header.ID, entryAlh)
	if err := c.advance(&vtx.DualProof, source, target, forward, vtx.Signature, cur); err != nil {
		return nil, err
	}
	return &vtx.Tx.Header, nil
}

// VerifiedSet writes a single key/value pair and verifies the resulting
// commit before trusting the advanced state.
func (c *Client) VerifiedSet(ctx context.Context, key, value []byte, metadata *txlog.EntryMetadata) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentState()
	if err != nil {
		return nil, err
	}

	vtx, err := c.rpc.VerifiableSet(ctx, hdr, transport.VerifiableSetRequest{
		SetRequest:   transport.SetRequest{KVs: []transport.KV{{Key: key, Value: value, Metadata: metadata}}},
		ProveSinceTx: cur.TxID,
	})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}

	hValue := sha256.Sum256(value)
	entry := &txlog.TxEntry{Key: key, HValue: hValue, VLen: int32(len(value)), Metadata: metadata}
	return c.verifiedWrite(ctx, cur, &vtx, entry)
}

// VerifiedSetReference creates an alias key pointing at referenced and
// verifies the resulting commit.
func (c *Client) VerifiedSetReference(ctx context.Context, key, referenced []byte, atTx uint64) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentState()
	if err != nil {
		return nil, err
	}

	vtx, err := c.rpc.VerifiableSetReference(ctx, hdr, transport.SetReferenceRequest{Key: key, Referenced: referenced, AtTx: atTx}, cur.TxID)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}

	hValue := digest.ReferenceDigest(referenced, atTx)
	entry := &txlog.TxEntry{Key: key, HValue: hValue, VLen: int32(len(referenced))}
	return c.verifiedWrite(ctx, cur, &vtx, entry)
}

// VerifiedZAdd adds a scored member to a sorted set and verifies the
// resulting commit.
func (c *Client) VerifiedZAdd(ctx context.Context, set, key []byte, score float64, atTx uint64, boundRef bool) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentState()
	if err != nil {
		return nil, err
	}

	req := transport.ZAddRequest{Set: set, Key: key, AtTx: atTx, Score: score, BoundRef: boundRef}
	vtx, err := c.rpc.VerifiableZAdd(ctx, hdr, req, cur.TxID)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}

	entry := &txlog.TxEntry{Key: key, Set: set, Score: score, AtTx: atTx}
	return c.verifiedWrite(ctx, cur, &vtx, entry)
}

// VerifiedTxByID fetches a committed transaction by id and verifies only
// the dual proof and signature (no entry digest to bind).
func (c *Client) VerifiedTxByID(ctx context.Context, txID uint64) (*txlog.Tx, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentState()
	if err != nil {
		return nil, err
	}

	vtx, err := c.rpc.VerifiableTxByID(ctx, hdr, transport.VerifiableTxRequest{Tx: txID, ProveSinceTx: cur.TxID})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}

	targetAlh, err := digest.Alh(&vtx.Tx.Header)
	if err != nil {
		return nil, verrors.Wrap(verrors.VerificationFailed, "computing requested tx alh", err).WithReason("header")
	}
	source, target, forward := chooseSides(cur, vtx.Tx.Header.ID, targetAlh)
	if err := c.advance(&vtx.DualProof, source, target, forward, vtx.Signature, cur); err != nil {
		return nil, err
	}

	return &vtx.Tx, nil
}
