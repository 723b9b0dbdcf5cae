// Copyright 2025 Certen Protocol

package proof

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	tlogproof "github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/certen/verikv/pkg/digest"
	"github.com/certen/verikv/pkg/txlog"
)

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// expectedInclusionDepth returns how many fold steps an honest proof for a
// tree of the given width must contain.
func expectedInclusionDepth(width int) int {
	if width <= 1 {
		return 0
	}
	depth := 0
	w := width
	for w > 1 {
		w = (w + 1) / 2
		depth++
	}
	return depth
}

// VerifyInclusion reconstructs the entry-tree root by folding leafDigest
// against proof.Terms following the binary path derived from proof.Leaf
// and proof.Width (duplicate-last-on-odd Merkle tree), then checks it
// equals root. See SPEC_FULL.md §4.2.
func VerifyInclusion(p *InclusionProof, leafDigest [32]byte, root [32]byte) bool {
	if p == nil {
		return false
	}
	if p.Width <= 0 || p.Leaf < 0 || p.Leaf >= p.Width {
		return false
	}
	if len(p.Terms) != expectedInclusionDepth(p.Width) {
		return false
	}

	cur := leafDigest
	idx := p.Leaf
	for _, term := range p.Terms {
		if idx%2 == 1 {
			cur = hashPair(term, cur)
		} else {
			cur = hashPair(cur, term)
		}
		idx = idx / 2
	}
	return cur == root
}

// VerifyLinear walks proof.Terms starting from sourceAlh, incrementing the
// transaction id at each step, and checks the final value equals
// targetAlh. See SPEC_FULL.md §4.2.
func VerifyLinear(p *LinearProof, sourceAlh, targetAlh [32]byte) bool {
	if p == nil {
		return false
	}
	if p.SourceTxID == p.TargetTxID {
		return len(p.Terms) == 0 && sourceAlh == targetAlh
	}
	if p.TargetTxID < p.SourceTxID {
		return false
	}
	expectedSteps := int(p.TargetTxID - p.SourceTxID)
	if len(p.Terms) != expectedSteps {
		return false
	}

	prev := sourceAlh
	txID := p.SourceTxID + 1
	for _, innerTerm := range p.Terms {
		buf := make([]byte, 0, 8+32+32)
		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, txID)
		buf = append(buf, idBuf...)
		buf = append(buf, prev[:]...)
		buf = append(buf, innerTerm[:]...)
		prev = sha256.Sum256(buf)
		txID++
	}
	return prev == targetAlh
}

// blHasher is the NodeHasher for the binary-linked tree: RFC 6962 domain
// separated hashing, matching the append-only log construction the BL tree
// is modeled on.
var blHasher = rfc6962.DefaultHasher

// VerifyConsistency checks the standard Merkle-tree (RFC 6962 shape)
// consistency proof between two tree sizes/roots, delegating to
// transparency-dev/merkle for the tree-shape math. See SPEC_FULL.md §4.2.
func VerifyConsistency(terms [][32]byte, oldRoot, newRoot [32]byte, oldSize, newSize uint64) bool {
	proofBytes := make([][]byte, len(terms))
	for i, t := range terms {
		tc := t
		proofBytes[i] = tc[:]
	}
	err := tlogproof.VerifyConsistency(blHasher, oldSize, newSize, proofBytes, oldRoot[:], newRoot[:])
	return err == nil
}

// verifyBlInclusion checks inclusion of leafHash at the given index within
// a binary-linked tree of the given size and root, via the RFC 6962 path
// folding rules (no duplicate-last: the BL tree is a strict append-only
// log tree, unlike the per-transaction entry tree).
func verifyBlInclusion(terms [][32]byte, index, size uint64, leafHash, root [32]byte) bool {
	proofBytes := make([][]byte, len(terms))
	for i, t := range terms {
		tc := t
		proofBytes[i] = tc[:]
	}
	err := tlogproof.VerifyInclusion(blHasher, index, size, leafHash[:], proofBytes, root[:])
	return err == nil
}

// VerifyDualProof combines inclusion, consistency and linear checks to
// establish that targetId legitimately succeeds sourceId in the ledger.
// See SPEC_FULL.md §4.2 for the six numbered sub-checks this implements.
func VerifyDualProof(p *DualProof, sourceID, targetID uint64, sourceAlh, targetAlh [32]byte) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("proof: nil dual proof")
	}

	// 1 & 2: header self-consistency and id binding.
	computedSourceAlh, err := alhOf(&p.SourceTxHeader)
	if err != nil {
		return false, err
	}
	computedTargetAlh, err := alhOf(&p.TargetTxHeader)
	if err != nil {
		return false, err
	}
	if computedSourceAlh != sourceAlh || computedTargetAlh != targetAlh {
		return false, nil
	}
	if p.SourceTxHeader.ID != sourceID || p.TargetTxHeader.ID != targetID {
		return false, nil
	}

	// sourceId == targetId: no further proof required, alh equality
	// already checked above via computed == expected.
	if sourceID == targetID {
		return sourceAlh == targetAlh, nil
	}

	// 3: sourceAlh's inclusion + consistency in/between BL trees, when the
	// source transaction predates the target's last BL commitment.
	if sourceID < p.TargetTxHeader.BlTxID {
		if !verifyBlInclusion(p.InclusionProof, sourceID-1, p.TargetTxHeader.BlTxID, sourceAlh, p.TargetTxHeader.BlRoot) {
			return false, nil
		}
		if !VerifyConsistency(p.ConsistencyProof, p.SourceTxHeader.BlRoot, p.TargetTxHeader.BlRoot, p.SourceTxHeader.BlTxID, p.TargetTxHeader.BlTxID) {
			return false, nil
		}
	}

	// 4: last-included alh inclusion in the target's BL tree.
	if p.TargetTxHeader.BlTxID > 0 {
		if !verifyBlInclusion(p.LastInclusionProof, p.TargetTxHeader.BlTxID-1, p.TargetTxHeader.BlTxID, p.TargetBlTxAlh, p.TargetTxHeader.BlRoot) {
			return false, nil
		}
	}

	// 5: linear chain from the appropriate start position to targetAlh.
	// When sourceID < blTxId, step 3 already anchors sourceAlh via BL-tree
	// inclusion/consistency, so the remaining gap runs from the BL tree's
	// last-committed tx (TargetBlTxAlh, at tx ID blTxId) up to the target.
	// Otherwise step 3 was skipped and the chain runs directly from
	// sourceAlh/sourceID.
	linStart := sourceAlh
	linStartID := sourceID
	if p.TargetTxHeader.BlTxID > 0 && sourceID < p.TargetTxHeader.BlTxID {
		linStart = p.TargetBlTxAlh
		linStartID = p.TargetTxHeader.BlTxID
	}
	p.LinearProof.SourceTxID = linStartID
	p.LinearProof.TargetTxID = targetID
	if !VerifyLinear(&p.LinearProof, linStart, targetAlh) {
		return false, nil
	}

	return true, nil
}

func alhOf(h *txlog.TxHeader) ([32]byte, error) {
	return digest.Alh(h)
}
