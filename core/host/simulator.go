package host

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

type balanceKey struct {
	addr  [20]byte
	asset uint64
}

// Simulator is an in-memory host ledger. It keeps per-asset balances, assigns
// rounds and timestamps to groups, and commits each group atomically. It backs
// the CLI and the end-to-end tests.
type Simulator struct {
	mu       sync.Mutex
	app      [20]byte
	round    uint64
	clock    func() time.Time
	balances map[balanceKey]*uint256.Int
}

// NewSimulator creates a ledger whose settlement application lives at app.
func NewSimulator(app [20]byte) *Simulator {
	return &Simulator{
		app:      app,
		clock:    func() time.Time { return time.Now().UTC() },
		balances: make(map[balanceKey]*uint256.Int),
	}
}

// SetClock overrides the timestamp source. Nil restores the wall clock.
func (s *Simulator) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	s.clock = clock
}

// SetRound positions the simulator at round, typically when resuming from a
// persisted state.
func (s *Simulator) SetRound(round uint64) {
	s.mu.Lock()
	s.round = round
	s.mu.Unlock()
}

// Round returns the last committed round.
func (s *Simulator) Round() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// ApplicationAddress returns the settlement application's account.
func (s *Simulator) ApplicationAddress() [20]byte {
	return s.app
}

// Fund credits amount of asset to addr outside of any group.
func (s *Simulator) Fund(addr [20]byte, asset uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: invalid funding amount", ErrInvalidTransfer)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("%w: funding amount overflow", ErrInvalidTransfer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{addr: addr, asset: asset}
	current := s.balanceLocked(key)
	sum, carry := new(uint256.Int).AddOverflow(current, value)
	if carry {
		return fmt.Errorf("%w: balance overflow", ErrInvalidTransfer)
	}
	s.balances[key] = sum
	return nil
}

// Balance returns the committed balance of addr in asset.
func (s *Simulator) Balance(addr [20]byte, asset uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(balanceKey{addr: addr, asset: asset}).ToBig()
}

func (s *Simulator) balanceLocked(key balanceKey) *uint256.Int {
	if bal, ok := s.balances[key]; ok && bal != nil {
		return bal
	}
	return new(uint256.Int)
}

// NewGroup opens an atomic group. callerIndex identifies the application call
// within txs.
func (s *Simulator) NewGroup(txs []*Transaction, callerIndex int) (*Group, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("host: group must contain at least one transaction")
	}
	if callerIndex < 0 || callerIndex >= len(txs) {
		return nil, ErrIndexOutOfRange
	}
	copied := make([]*Transaction, len(txs))
	for i, tx := range txs {
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("host: group index %d: %w", i, err)
		}
		clone := *tx
		if tx.Amount != nil {
			clone.Amount = new(big.Int).Set(tx.Amount)
		} else {
			clone.Amount = big.NewInt(0)
		}
		copied[i] = &clone
	}
	if copied[callerIndex].Type != TxTypeAppCall {
		return nil, fmt.Errorf("host: caller index %d is not an application call", callerIndex)
	}
	s.mu.Lock()
	round := s.round + 1
	now := s.clock()
	s.mu.Unlock()
	return &Group{
		sim:       s,
		round:     round,
		timestamp: now.Unix(),
		txs:       copied,
		caller:    callerIndex,
		debits:    make(map[uint64]*uint256.Int),
	}, nil
}

// Group is a pending atomic transaction group. It implements Ledger for the
// duration of one application call.
type Group struct {
	sim       *Simulator
	round     uint64
	timestamp int64
	txs       []*Transaction
	caller    int
	pending   []Transfer
	debits    map[uint64]*uint256.Int
	closed    bool
}

func (g *Group) CurrentTimestamp() int64 { return g.timestamp }

func (g *Group) Round() uint64 { return g.round }

func (g *Group) ApplicationAddress() [20]byte { return g.sim.app }

func (g *Group) GroupSize() int { return len(g.txs) }

func (g *Group) CallerIndex() int { return g.caller }

// TransactionAt returns a copy of the grouped transaction at index.
func (g *Group) TransactionAt(index int) (*Transaction, error) {
	if index < 0 || index >= len(g.txs) {
		return nil, ErrIndexOutOfRange
	}
	clone := *g.txs[index]
	clone.Amount = new(big.Int).Set(g.txs[index].Amount)
	return &clone, nil
}

// BalanceOf returns the committed balance of addr.
func (g *Group) BalanceOf(addr [20]byte, asset uint64) (*big.Int, error) {
	return g.sim.Balance(addr, asset), nil
}

// IssueTransfer queues an inner transfer from the application account. The
// transfer is rejected immediately when the application cannot cover it,
// counting grouped deposits and transfers already queued in this group.
func (g *Group) IssueTransfer(asset uint64, amount *big.Int, receiver [20]byte) error {
	if g.closed {
		return ErrGroupClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("%w: amount overflow", ErrInvalidTransfer)
	}
	if receiver == ([20]byte{}) {
		return fmt.Errorf("%w: receiver required", ErrInvalidTransfer)
	}
	available := g.availableToApp(asset)
	debited := g.debits[asset]
	if debited == nil {
		debited = new(uint256.Int)
	}
	next, carry := new(uint256.Int).AddOverflow(debited, value)
	if carry || next.Gt(available) {
		return ErrInsufficientBalance
	}
	g.debits[asset] = next
	g.pending = append(g.pending, Transfer{Asset: asset, Amount: new(big.Int).Set(amount), Receiver: receiver})
	return nil
}

func (g *Group) availableToApp(asset uint64) *uint256.Int {
	g.sim.mu.Lock()
	total := new(uint256.Int).Set(g.sim.balanceLocked(balanceKey{addr: g.sim.app, asset: asset}))
	g.sim.mu.Unlock()
	for _, tx := range g.txs {
		if tx.Receiver != g.sim.app || tx.Asset != asset {
			continue
		}
		if tx.Type != TxTypePayment && tx.Type != TxTypeAssetTransfer {
			continue
		}
		incoming, overflow := uint256.FromBig(tx.Amount)
		if overflow {
			continue
		}
		total.Add(total, incoming)
	}
	return total
}

// Transfers returns the inner transfers queued so far.
func (g *Group) Transfers() []Transfer {
	out := make([]Transfer, len(g.pending))
	copy(out, g.pending)
	return out
}

// Commit applies every grouped transaction and queued inner transfer. Nothing
// is applied when any leg fails.
func (g *Group) Commit() error {
	if g.closed {
		return ErrGroupClosed
	}
	s := g.sim
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[balanceKey]*uint256.Int)
	get := func(key balanceKey) *uint256.Int {
		if bal, ok := staged[key]; ok {
			return bal
		}
		bal := new(uint256.Int).Set(s.balanceLocked(key))
		staged[key] = bal
		return bal
	}
	move := func(from, to [20]byte, asset uint64, amount *big.Int) error {
		value, overflow := uint256.FromBig(amount)
		if overflow {
			return fmt.Errorf("%w: amount overflow", ErrInvalidTransfer)
		}
		if value.IsZero() {
			return nil
		}
		src := get(balanceKey{addr: from, asset: asset})
		if src.Lt(value) {
			return fmt.Errorf("%w: %x lacks %s of asset %d", ErrInsufficientBalance, from, amount, asset)
		}
		src.Sub(src, value)
		dst := get(balanceKey{addr: to, asset: asset})
		if _, carry := dst.AddOverflow(dst, value); carry {
			return fmt.Errorf("%w: balance overflow", ErrInvalidTransfer)
		}
		return nil
	}

	for i, tx := range g.txs {
		if tx.Type != TxTypePayment && tx.Type != TxTypeAssetTransfer {
			continue
		}
		if err := move(tx.Sender, tx.Receiver, tx.Asset, tx.Amount); err != nil {
			return fmt.Errorf("host: group index %d: %w", i, err)
		}
	}
	for i, transfer := range g.pending {
		if err := move(s.app, transfer.Receiver, transfer.Asset, transfer.Amount); err != nil {
			return fmt.Errorf("host: inner transfer %d: %w", i, err)
		}
	}
	for key, bal := range staged {
		s.balances[key] = bal
	}
	if g.round > s.round {
		s.round = g.round
	}
	g.closed = true
	return nil
}

// Discard abandons the group without touching balances.
func (g *Group) Discard() {
	g.closed = true
	g.pending = nil
	g.debits = make(map[uint64]*uint256.Int)
}
