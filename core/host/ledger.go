package host

import (
	"errors"
	"fmt"
	"math/big"
)

// TxType identifies the kind of transaction inside an atomic group.
type TxType uint8

const (
	TxTypeUnknown TxType = iota
	// TxTypePayment moves the ledger's native asset.
	TxTypePayment
	// TxTypeAssetTransfer moves a registered asset (stablecoin).
	TxTypeAssetTransfer
	// TxTypeAppCall invokes the settlement application.
	TxTypeAppCall
)

// NativeAsset is the asset id of the ledger's native currency.
const NativeAsset uint64 = 0

func (t TxType) String() string {
	switch t {
	case TxTypePayment:
		return "pay"
	case TxTypeAssetTransfer:
		return "axfer"
	case TxTypeAppCall:
		return "appl"
	default:
		return "unknown"
	}
}

var (
	// ErrIndexOutOfRange is returned when a group index does not exist.
	ErrIndexOutOfRange = errors.New("host: group index out of range")
	// ErrInsufficientBalance is returned when an inner transfer would overdraw
	// the application account.
	ErrInsufficientBalance = errors.New("host: insufficient application balance")
	// ErrInvalidTransfer marks malformed inner transfer requests.
	ErrInvalidTransfer = errors.New("host: invalid transfer")
	// ErrGroupClosed is returned when a group is used after commit or discard.
	ErrGroupClosed = errors.New("host: group already closed")
)

// Transaction is the view of a grouped transaction exposed to the core.
type Transaction struct {
	Type     TxType
	Sender   [20]byte
	Receiver [20]byte
	Amount   *big.Int
	Asset    uint64
}

// Validate performs structural checks on the transaction.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("host: nil transaction")
	}
	if t.Type == TxTypeUnknown {
		return fmt.Errorf("host: transaction type required")
	}
	if t.Amount != nil && t.Amount.Sign() < 0 {
		return fmt.Errorf("host: negative amount")
	}
	if t.Type == TxTypePayment && t.Asset != NativeAsset {
		return fmt.Errorf("host: payment must use native asset")
	}
	return nil
}

// Transfer is an inner value transfer issued by the application.
type Transfer struct {
	Asset    uint64
	Amount   *big.Int
	Receiver [20]byte
}

// Ledger is the host-ledger contract the core depends on. Implementations
// provide the group context of the current call and accept inner transfers.
// The host commits the group atomically: either every grouped transaction and
// every issued transfer takes effect or none does.
type Ledger interface {
	CurrentTimestamp() int64
	Round() uint64
	ApplicationAddress() [20]byte
	GroupSize() int
	// CallerIndex is the group index of the application call being executed.
	CallerIndex() int
	TransactionAt(index int) (*Transaction, error)
	IssueTransfer(asset uint64, amount *big.Int, receiver [20]byte) error
	BalanceOf(addr [20]byte, asset uint64) (*big.Int, error)
}

// DefaultMinOracleStake is the smallest oracle payment accepted as group
// authentication.
var DefaultMinOracleStake = big.NewInt(1_000)

// InAtomicGroup reports whether the call was sent together with at least one
// other transaction.
func InAtomicGroup(l Ledger) bool {
	return l != nil && l.GroupSize() > 1
}

// CheckOracleStake requires a payment of at least minStake at index. It does
// not authenticate who sent the payment.
func CheckOracleStake(l Ledger, index int, minStake *big.Int) error {
	tx, err := l.TransactionAt(index)
	if err != nil {
		return err
	}
	if tx.Type != TxTypePayment {
		return fmt.Errorf("oracle transaction must be a payment, got %s", tx.Type)
	}
	if minStake == nil {
		minStake = DefaultMinOracleStake
	}
	if tx.Amount == nil || tx.Amount.Cmp(minStake) < 0 {
		return fmt.Errorf("oracle must stake at least %s", minStake)
	}
	return nil
}

// Caller returns the sender of the application call.
func Caller(l Ledger) ([20]byte, error) {
	tx, err := l.TransactionAt(l.CallerIndex())
	if err != nil {
		return [20]byte{}, err
	}
	return tx.Sender, nil
}
