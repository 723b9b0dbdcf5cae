// Copyright 2025 Certen Protocol

// Package digest implements the canonical byte layouts and hashing that
// every proof verifier in pkg/proof ultimately reduces to: SHA-256 leaf and
// chain digests, and ECDSA signature verification over a trusted state.
//
// All encodings here are bit-exact and must match the server's canonical
// layout (see SPEC_FULL.md §6). Nothing in this package is probabilistic or
// best-effort: a wrong byte in, a wrong root out.
package digest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/certen/verikv/pkg/txlog"
)

// ErrUnsupportedVersion is returned when a TxHeader carries a version this
// package does not know the innerHash layout for. Per SPEC_FULL.md §9, an
// unrecognized version must fail closed rather than guess.
var ErrUnsupportedVersion = errors.New("digest: unsupported header version")

// Sha256 returns the SHA-256 digest of b.
func Sha256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func putUint64(buf []byte, v uint64) {
	binary.BigEndian.PutUint64(buf, v)
}

func putUint32(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf, v)
}

// innerHash computes the version-dependent inner hash folded into Alh.
func innerHash(h *txlog.TxHeader) ([]byte, error) {
	switch h.Version {
	case txlog.HeaderVersion0:
		buf := make([]byte, 0, 8+4+32+8+32)
		ts := make([]byte, 8)
		putUint64(ts, uint64(h.Timestamp))
		buf = append(buf, ts...)
		ne := make([]byte, 4)
		putUint32(ne, uint32(h.NEntries))
		buf = append(buf, ne...)
		buf = append(buf, h.Eh[:]...)
		bl := make([]byte, 8)
		putUint64(bl, h.BlTxID)
		buf = append(buf, bl...)
		buf = append(buf, h.BlRoot[:]...)
		sum := sha256.Sum256(buf)
		return sum[:], nil
	case txlog.HeaderVersion1:
		// Inner-inner hash folds version, metadata, nEntries and eh before
		// the timestamp/blTxId/blRoot are folded in, per SPEC_FULL.md §6.
		innerBuf := make([]byte, 0, 2+len(h.Metadata)+4+32)
		ver := make([]byte, 2)
		binary.BigEndian.PutUint16(ver, uint16(h.Version))
		innerBuf = append(innerBuf, ver...)
		innerBuf = append(innerBuf, h.Metadata...)
		ne := make([]byte, 4)
		putUint32(ne, uint32(h.NEntries))
		innerBuf = append(innerBuf, ne...)
		innerBuf = append(innerBuf, h.Eh[:]...)
		innerInner := sha256.Sum256(innerBuf)

		buf := make([]byte, 0, 8+8+32+32)
		ts := make([]byte, 8)
		putUint64(ts, uint64(h.Timestamp))
		buf = append(buf, ts...)
		bl := make([]byte, 8)
		putUint64(bl, h.BlTxID)
		buf = append(buf, bl...)
		buf = append(buf, h.BlRoot[:]...)
		buf = append(buf, innerInner[:]...)
		sum := sha256.Sum256(buf)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
}

// Alh computes the accumulative linear hash of a transaction header:
// alh = SHA256(id(8) || prevAlh(32) || innerHash(header)).
func Alh(h *txlog.TxHeader) ([32]byte, error) {
	inner, err := innerHash(h)
	if err != nil {
		return [32]byte{}, err
	}
	buf := make([]byte, 0, 8+32+len(inner))
	id := make([]byte, 8)
	putUint64(id, h.ID)
	buf = append(buf, id...)
	buf = append(buf, h.PrevAlh[:]...)
	buf = append(buf, inner...)
	return sha256.Sum256(buf), nil
}

// foldMetadata folds per-entry metadata into hValue, producing hValue' as
// described in SPEC_FULL.md §6. Entries without metadata pass hValue
// through unchanged; the fold only applies under header version 1, the
// only version whose canonical layout this package knows.
func foldMetadata(hValue [32]byte, metadata *txlog.EntryMetadata, vLen int32, version txlog.HeaderVersion) ([32]byte, error) {
	if metadata == nil {
		return hValue, nil
	}
	switch version {
	case txlog.HeaderVersion1:
		mdBytes := encodeMetadata(metadata)
		buf := make([]byte, 0, len(mdBytes)+4+32)
		buf = append(buf, mdBytes...)
		vl := make([]byte, 4)
		putUint32(vl, uint32(vLen))
		buf = append(buf, vl...)
		buf = append(buf, hValue[:]...)
		return sha256.Sum256(buf), nil
	case txlog.HeaderVersion0:
		// Version 0 predates per-entry metadata folding; a metadata-bearing
		// entry under v0 is structurally impossible and must fail closed.
		return [32]byte{}, fmt.Errorf("%w: metadata present under header version 0", ErrUnsupportedVersion)
	default:
		return [32]byte{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

// encodeMetadata produces the canonical metadata byte layout: one flags
// byte, bit 0 set when the entry is marked deleted.
func encodeMetadata(m *txlog.EntryMetadata) []byte {
	var flags byte
	if m.Deleted {
		flags |= 0x01
	}
	return []byte{flags}
}

// LeafDigest computes SHA256(0x00 || encodedKey || hValue') for a plain
// (non sorted-set) entry.
func LeafDigest(key []byte, hValue [32]byte, metadata *txlog.EntryMetadata, vLen int32, version txlog.HeaderVersion) ([32]byte, error) {
	folded, err := foldMetadata(hValue, metadata, vLen, version)
	if err != nil {
		return [32]byte{}, err
	}
	buf := make([]byte, 0, 1+len(key)+32)
	buf = append(buf, 0x00)
	buf = append(buf, key...)
	buf = append(buf, folded[:]...)
	return sha256.Sum256(buf), nil
}

// ReferenceDigest computes the hValue folded into a reference entry's
// leaf: SHA256(0x01 || referencedKey || atTx(8)). A reference entry's
// digest binds to the aliased key and pinned transaction, not to the
// referenced entry's value, so a client can verify a setReference commit
// without having to already know (or re-fetch) the target's value.
func ReferenceDigest(referenced []byte, atTx uint64) [32]byte {
	buf := make([]byte, 0, 1+len(referenced)+8)
	buf = append(buf, 0x01)
	buf = append(buf, referenced...)
	tx := make([]byte, 8)
	putUint64(tx, atTx)
	buf = append(buf, tx...)
	return sha256.Sum256(buf)
}

// zEncodedKey lays out a sorted-set entry's key per SPEC_FULL.md §6:
// set || keyLen(8) || key || score(8, IEEE-754 big-endian) || atTx(8).
func zEncodedKey(set, key []byte, score float64, atTx uint64) []byte {
	buf := make([]byte, 0, len(set)+8+len(key)+8+8)
	buf = append(buf, set...)
	kl := make([]byte, 8)
	putUint64(kl, uint64(len(key)))
	buf = append(buf, kl...)
	buf = append(buf, key...)
	sc := make([]byte, 8)
	binary.BigEndian.PutUint64(sc, math.Float64bits(score))
	buf = append(buf, sc...)
	tx := make([]byte, 8)
	putUint64(tx, atTx)
	buf = append(buf, tx...)
	return buf
}

// EntryDigest computes the Merkle-leaf digest for a TxEntry, dispatching
// to the plain or sorted-set key encoding.
func EntryDigest(e *txlog.TxEntry, version txlog.HeaderVersion) ([32]byte, error) {
	folded, err := foldMetadata(e.HValue, e.Metadata, e.VLen, version)
	if err != nil {
		return [32]byte{}, err
	}
	var encodedKey []byte
	if len(e.Set) > 0 {
		encodedKey = zEncodedKey(e.Set, e.Key, e.Score, e.AtTx)
	} else {
		encodedKey = e.Key
	}
	buf := make([]byte, 0, 1+len(encodedKey)+32)
	buf = append(buf, 0x00)
	buf = append(buf, encodedKey...)
	buf = append(buf, folded[:]...)
	return sha256.Sum256(buf), nil
}

// VerifySignature verifies that signature is a DER-encoded ECDSA secp256r1
// signature over SHA256(db || txId || txHash), under pubKey. It rejects on
// any parse or curve error rather than propagating it, matching §4.1's
// "MUST reject on any parse or curve error".
func VerifySignature(pubKey *ecdsa.PublicKey, state *txlog.ImmuState) bool {
	if pubKey == nil || state == nil {
		return false
	}
	if pubKey.Curve != elliptic.P256() {
		return false
	}
	msg := stateSigningInput(state)
	h := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pubKey, h[:], state.Signature)
}

func stateSigningInput(state *txlog.ImmuState) []byte {
	buf := make([]byte, 0, len(state.Db)+8+32)
	buf = append(buf, []byte(state.Db)...)
	id := make([]byte, 8)
	putUint64(id, state.TxID)
	buf = append(buf, id...)
	buf = append(buf, state.TxHash[:]...)
	return buf
}
