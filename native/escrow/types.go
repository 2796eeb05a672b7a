package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status represents the lifecycle state of an escrow transaction. The set of
// values is closed; Valid reports whether a value belongs to it.
type Status uint8

const (
	StatusInProgress Status = iota
	StatusDisputed
	StatusCompleted
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusDisputed, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "InProgress"
	case StatusDisputed:
		return "Disputed"
	case StatusCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "InProgress":
		return StatusInProgress, nil
	case "Disputed":
		return StatusDisputed, nil
	case "Completed":
		return StatusCompleted, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", name)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Transaction is a single escrow agreement tracked by the ledger.
//
// Amount keeps the accumulated value after completion so the record remains
// auditable; Custodied reports what is still held.
type Transaction struct {
	ID             uint64
	Buyer          common.Address
	Seller         common.Address
	Arbitrator     common.Address
	Amount         *uint256.Int
	Status         Status
	BuyerApproved  bool
	SellerApproved bool
	// Payee is the identity that received the disbursement. Zero until the
	// transaction completes.
	Payee     common.Address
	CreatedAt int64
	UpdatedAt int64
}

// Clone returns a deep copy of the transaction so callers can safely mutate
// the copy without affecting the stored instance.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(uint256.Int).Set(t.Amount)
	} else {
		clone.Amount = new(uint256.Int)
	}
	return &clone
}

// IsParty reports whether addr is the buyer or the seller.
func (t *Transaction) IsParty(addr common.Address) bool {
	return addr == t.Buyer || addr == t.Seller
}

// Custodied returns the value still held for the transaction.
func (t *Transaction) Custodied() *uint256.Int {
	if t.Status == StatusCompleted || t.Amount == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(t.Amount)
}

// Transfer is a single movement of value into or out of custody.
type Transfer struct {
	Party  common.Address
	Amount *uint256.Int
}

// Changeset is everything one operation commits: the updated record and the
// value movement that must happen with it. State implementations apply a
// changeset entirely or not at all.
type Changeset struct {
	Transaction *Transaction
	// Created marks a new record; the transaction counter advances to
	// Transaction.ID+1.
	Created bool
	// Inflow moves value from Party into custody.
	Inflow *Transfer
	// Payout moves value from custody to Party.
	Payout *Transfer
}
