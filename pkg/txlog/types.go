// Copyright 2025 Certen Protocol

// Package txlog defines the wire-independent data model of the transaction
// log: entries, transaction headers, transactions, and the trusted state
// the client carries between calls.
package txlog

// HeaderVersion selects the innerHash layout used when computing Alh.
// Only versions the server's canonical spec defines are accepted; an
// unrecognized version must fail closed rather than guess a layout.
type HeaderVersion int32

const (
	HeaderVersion0 HeaderVersion = 0
	HeaderVersion1 HeaderVersion = 1
)

// TxHeader is the per-transaction header that feeds the Alh chain.
type TxHeader struct {
	ID        uint64
	PrevAlh   [32]byte
	Timestamp int64
	NEntries  int32
	Eh        [32]byte
	BlTxID    uint64
	BlRoot    [32]byte
	Version   HeaderVersion
	// Metadata bytes are appended as-is to the v1 inner hash input; nil and
	// zero-length metadata hash identically.
	Metadata []byte
}

// Reference marks that an Entry was reached through an alias (setReference,
// zAdd). Verification binds to Key, not the aliased target.
type Reference struct {
	Key []byte
	AtTx uint64
}

// EntryMetadata carries per-entry flags.
type EntryMetadata struct {
	Deleted bool
}

// Entry is a single key/value pair as returned by a read.
type Entry struct {
	Tx           uint64
	Key          []byte
	Value        []byte
	Metadata     *EntryMetadata
	Revision     int64
	ReferencedBy *Reference
}

// BoundKey returns the key verification must bind against: the alias key
// when the entry was reached by reference, otherwise Key itself.
func (e *Entry) BoundKey() []byte {
	if e.ReferencedBy != nil {
		return e.ReferencedBy.Key
	}
	return e.Key
}

// IsDeleted reports whether the entry carries the deleted marker.
func (e *Entry) IsDeleted() bool {
	return e.Metadata != nil && e.Metadata.Deleted
}

// TxEntry is one leaf of a transaction: the value digest (HValue) plus the
// fields needed to compute its Merkle-leaf digest.
type TxEntry struct {
	HValue   [32]byte
	VLen     int32
	Key      []byte
	Metadata *EntryMetadata
	// Set is non-empty for sorted-set (Z) entries; Score/AtTx apply only
	// in that case (see §6 canonical digest encoding).
	Set   []byte
	Score float64
	AtTx  uint64
}

// Tx is a full transaction: header plus its entries, as needed to
// reconstruct and verify an Eh-rooted inclusion proof.
type Tx struct {
	Header  TxHeader
	Entries []TxEntry
}

// ImmuState is the client's trusted state for one (deployment, db) pair.
type ImmuState struct {
	Db        string
	TxID      uint64
	TxHash    [32]byte
	Signature []byte
}
