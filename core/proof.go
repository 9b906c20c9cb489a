package core

import (
	"github.com/ethereum/go-ethereum/common"

	corestate "pharmaclear/core/state"
	"pharmaclear/native/claims"
)

// ClaimProof shows that a claim record is part of a committed state root.
type ClaimProof struct {
	Fingerprint [32]byte
	StateRoot   common.Hash
	Nodes       [][]byte
}

// ProveClaim builds a proof for fp against the last committed root. Unknown
// fingerprints yield an exclusion proof.
func (r *Runtime) ProveClaim(fp [32]byte) (*ClaimProof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, nodes, err := r.state.Prove(claims.RecordKey(fp))
	if err != nil {
		return nil, err
	}
	return &ClaimProof{Fingerprint: fp, StateRoot: root, Nodes: nodes}, nil
}

// VerifyClaimProof checks p without access to state and returns the proven
// record. It fails with claims.ErrClaimNotFound when p proves absence.
func VerifyClaimProof(p *ClaimProof) (*claims.Record, error) {
	var record claims.Record
	ok, err := corestate.VerifyKV(p.StateRoot, claims.RecordKey(p.Fingerprint), p.Nodes, &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, claims.ErrClaimNotFound
	}
	return &record, nil
}
