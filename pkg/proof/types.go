// Copyright 2025 Certen Protocol

// Package proof defines the proof object shapes of SPEC_FULL.md §3 and the
// pure verifier functions of §4.2. Every verifier here is a pure function:
// it takes proof + expected roots, returns a bool (or an error that always
// means "reject"), and never mutates trusted state — that is the state
// holder's job (pkg/statestore), invoked only after every verifier below
// accepts.
package proof

import "github.com/certen/verikv/pkg/txlog"

// InclusionProof is a Merkle path for one leaf within a single
// transaction's entry tree (rooted at TxHeader.Eh).
type InclusionProof struct {
	Leaf  int
	Width int
	Terms [][32]byte
}

// LinearProof chains Alh values from a source transaction to a target
// transaction, one step per intervening transaction id.
type LinearProof struct {
	SourceTxID uint64
	TargetTxID uint64
	Terms      [][32]byte
}

// DualProof combines the source and target transaction headers with the
// binary-linked-tree inclusion and consistency paths and the linear proof
// that together show the target transaction extends the source.
type DualProof struct {
	SourceTxHeader txlog.TxHeader
	TargetTxHeader txlog.TxHeader

	InclusionProof    [][32]byte
	ConsistencyProof  [][32]byte
	TargetBlTxAlh     [32]byte
	LastInclusionProof [][32]byte
	LinearProof       LinearProof
}
