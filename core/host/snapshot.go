package host

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
)

// Balance is one committed (account, asset) balance.
type Balance struct {
	Address [20]byte
	Asset   uint64
	Amount  *big.Int
}

// Snapshot captures the committed ledger so a process can resume it. The
// struct is RLP-friendly.
type Snapshot struct {
	Round    uint64
	Balances []Balance
}

// Snapshot returns the committed round and every non-zero balance, ordered by
// account then asset.
func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Round: s.round, Balances: make([]Balance, 0, len(s.balances))}
	for key, bal := range s.balances {
		if bal == nil || bal.IsZero() {
			continue
		}
		snap.Balances = append(snap.Balances, Balance{Address: key.addr, Asset: key.asset, Amount: bal.ToBig()})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		if c := bytes.Compare(snap.Balances[i].Address[:], snap.Balances[j].Address[:]); c != 0 {
			return c < 0
		}
		return snap.Balances[i].Asset < snap.Balances[j].Asset
	})
	return snap
}

// Restore replaces the ledger contents with snap.
func (s *Simulator) Restore(snap Snapshot) error {
	balances := make(map[balanceKey]*uint256.Int, len(snap.Balances))
	for _, entry := range snap.Balances {
		if entry.Amount == nil || entry.Amount.Sign() < 0 {
			return fmt.Errorf("%w: invalid snapshot balance", ErrInvalidTransfer)
		}
		value, overflow := uint256.FromBig(entry.Amount)
		if overflow {
			return fmt.Errorf("%w: snapshot balance overflow", ErrInvalidTransfer)
		}
		balances[balanceKey{addr: entry.Address, asset: entry.Asset}] = value
	}
	s.mu.Lock()
	s.balances = balances
	s.round = snap.Round
	s.mu.Unlock()
	return nil
}
