package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"escrowledger/native/escrow"
	"escrowledger/storage"
)

var (
	errNilChangeset    = errors.New("state: changeset requires a transaction")
	errBalanceOverflow = errors.New("state: balance overflow")
)

// Manager persists escrow records, account balances and the custody vault in a
// key-value database. It implements escrow.State; every Commit lands in one
// storage batch.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Account is the bank view of a single identity.
type Account struct {
	Balance *uint256.Int
	// Frozen accounts cannot receive disbursements.
	Frozen bool
}

type accountRecord struct {
	Balance *big.Int
	Frozen  bool
}

type transactionRecord struct {
	ID             uint64
	Buyer          common.Address
	Seller         common.Address
	Arbitrator     common.Address
	Amount         *big.Int
	Status         uint8
	BuyerApproved  bool
	SellerApproved bool
	Payee          common.Address
	CreatedAt      uint64
	UpdatedAt      uint64
}

var (
	countKey      = ethcrypto.Keccak256([]byte("escrow/count"))
	vaultKey      = ethcrypto.Keccak256([]byte("escrow/vault"))
	txPrefix      = []byte("escrow/tx/")
	accountPrefix = []byte("account/")
)

func transactionKey(id uint64) []byte {
	buf := make([]byte, len(txPrefix)+8)
	copy(buf, txPrefix)
	binary.BigEndian.PutUint64(buf[len(txPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr common.Address) []byte {
	buf := make([]byte, len(accountPrefix)+common.AddressLength)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func encodeTransaction(tx *escrow.Transaction) ([]byte, error) {
	if !tx.Status.Valid() {
		return nil, fmt.Errorf("state: invalid status %d", uint8(tx.Status))
	}
	amount := new(big.Int)
	if tx.Amount != nil {
		amount = tx.Amount.ToBig()
	}
	return rlp.EncodeToBytes(&transactionRecord{
		ID:             tx.ID,
		Buyer:          tx.Buyer,
		Seller:         tx.Seller,
		Arbitrator:     tx.Arbitrator,
		Amount:         amount,
		Status:         uint8(tx.Status),
		BuyerApproved:  tx.BuyerApproved,
		SellerApproved: tx.SellerApproved,
		Payee:          tx.Payee,
		CreatedAt:      uint64(tx.CreatedAt),
		UpdatedAt:      uint64(tx.UpdatedAt),
	})
}

func decodeTransaction(data []byte) (*escrow.Transaction, error) {
	var rec transactionRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, err
	}
	status := escrow.Status(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("state: stored transaction %d has invalid status %d", rec.ID, rec.Status)
	}
	amount, overflow := uint256.FromBig(rec.Amount)
	if overflow {
		return nil, fmt.Errorf("state: stored transaction %d amount overflows", rec.ID)
	}
	return &escrow.Transaction{
		ID:             rec.ID,
		Buyer:          rec.Buyer,
		Seller:         rec.Seller,
		Arbitrator:     rec.Arbitrator,
		Amount:         amount,
		Status:         status,
		BuyerApproved:  rec.BuyerApproved,
		SellerApproved: rec.SellerApproved,
		Payee:          rec.Payee,
		CreatedAt:      int64(rec.CreatedAt),
		UpdatedAt:      int64(rec.UpdatedAt),
	}, nil
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// TransactionCount returns the number of escrow records ever created.
func (m *Manager) TransactionCount() (uint64, error) {
	data, ok, err := m.get(countKey)
	if err != nil || !ok {
		return 0, err
	}
	var count uint64
	if err := rlp.DecodeBytes(data, &count); err != nil {
		return 0, fmt.Errorf("state: decode transaction count: %w", err)
	}
	return count, nil
}

// TransactionGet loads the record with the given id.
func (m *Manager) TransactionGet(id uint64) (*escrow.Transaction, bool, error) {
	data, ok, err := m.get(transactionKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	tx, err := decodeTransaction(data)
	if err != nil {
		return nil, false, fmt.Errorf("state: decode transaction %d: %w", id, err)
	}
	return tx, true, nil
}

// Transactions returns the records with ids in [from, to). The upper bound is
// clamped to the current count.
func (m *Manager) Transactions(from, to uint64) ([]*escrow.Transaction, error) {
	count, err := m.TransactionCount()
	if err != nil {
		return nil, err
	}
	if to > count {
		to = count
	}
	if from >= to {
		return []*escrow.Transaction{}, nil
	}
	out := make([]*escrow.Transaction, 0, to-from)
	for id := from; id < to; id++ {
		tx, ok, err := m.TransactionGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: transaction %d missing below count %d", id, count)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *Manager) loadAccount(addr common.Address) (*Account, error) {
	data, ok, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Account{Balance: new(uint256.Int)}, nil
	}
	var rec accountRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr.Hex(), err)
	}
	balance, overflow := uint256.FromBig(rec.Balance)
	if overflow {
		return nil, fmt.Errorf("state: account %s balance overflows", addr.Hex())
	}
	return &Account{Balance: balance, Frozen: rec.Frozen}, nil
}

func encodeAccount(acct *Account) ([]byte, error) {
	return rlp.EncodeToBytes(&accountRecord{Balance: acct.Balance.ToBig(), Frozen: acct.Frozen})
}

// Account returns the balance and freeze flag of addr. Unknown identities have
// a zero balance.
func (m *Manager) Account(addr common.Address) (*Account, error) {
	return m.loadAccount(addr)
}

// Balance returns the spendable balance of addr.
func (m *Manager) Balance(addr common.Address) (*uint256.Int, error) {
	acct, err := m.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return acct.Balance, nil
}

func (m *Manager) custody() (*uint256.Int, error) {
	data, ok, err := m.get(vaultKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	var bal big.Int
	if err := rlp.DecodeBytes(data, &bal); err != nil {
		return nil, fmt.Errorf("state: decode vault: %w", err)
	}
	out, overflow := uint256.FromBig(&bal)
	if overflow {
		return nil, fmt.Errorf("state: vault balance overflows")
	}
	return out, nil
}

// CustodyBalance returns the total value held in escrow.
func (m *Manager) CustodyBalance() (*uint256.Int, error) {
	return m.custody()
}

// Credit mints amount into addr's balance.
func (m *Manager) Credit(addr common.Address, amount *uint256.Int) error {
	if amount == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.loadAccount(addr)
	if err != nil {
		return err
	}
	if _, overflow := acct.Balance.AddOverflow(acct.Balance, amount); overflow {
		return errBalanceOverflow
	}
	encoded, err := encodeAccount(acct)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// SetFrozen toggles the inbound transfer hold on addr.
func (m *Manager) SetFrozen(addr common.Address, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.loadAccount(addr)
	if err != nil {
		return err
	}
	acct.Frozen = frozen
	encoded, err := encodeAccount(acct)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Commit writes the record, the counter and any value movement described by cs
// in a single batch. Custody failures are reported as escrow.ErrTransferFailed
// and leave the database untouched.
func (m *Manager) Commit(cs *escrow.Changeset) error {
	if cs == nil || cs.Transaction == nil {
		return errNilChangeset
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	vault, err := m.custody()
	if err != nil {
		return err
	}
	accounts := make(map[common.Address]*Account)
	load := func(addr common.Address) (*Account, error) {
		if acct, ok := accounts[addr]; ok {
			return acct, nil
		}
		acct, err := m.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		accounts[addr] = acct
		return acct, nil
	}

	if in := cs.Inflow; in != nil && in.Amount != nil {
		acct, err := load(in.Party)
		if err != nil {
			return err
		}
		if acct.Balance.Lt(in.Amount) {
			return fmt.Errorf("%w: insufficient balance for %s", escrow.ErrTransferFailed, in.Party.Hex())
		}
		acct.Balance.Sub(acct.Balance, in.Amount)
		if _, overflow := vault.AddOverflow(vault, in.Amount); overflow {
			return fmt.Errorf("%w: custody overflow", escrow.ErrTransferFailed)
		}
	}
	if out := cs.Payout; out != nil && out.Amount != nil {
		acct, err := load(out.Party)
		if err != nil {
			return err
		}
		if acct.Frozen {
			return fmt.Errorf("%w: recipient rejects transfer", escrow.ErrTransferFailed)
		}
		if vault.Lt(out.Amount) {
			return fmt.Errorf("%w: custody short of %s", escrow.ErrTransferFailed, out.Amount.Dec())
		}
		vault.Sub(vault, out.Amount)
		if _, overflow := acct.Balance.AddOverflow(acct.Balance, out.Amount); overflow {
			return fmt.Errorf("%w: recipient balance overflow", escrow.ErrTransferFailed)
		}
	}

	batch := m.db.NewBatch()
	record, err := encodeTransaction(cs.Transaction)
	if err != nil {
		return err
	}
	batch.Put(transactionKey(cs.Transaction.ID), record)
	if cs.Created {
		count, err := rlp.EncodeToBytes(cs.Transaction.ID + 1)
		if err != nil {
			return err
		}
		batch.Put(countKey, count)
	}
	if cs.Inflow != nil || cs.Payout != nil {
		encodedVault, err := rlp.EncodeToBytes(vault.ToBig())
		if err != nil {
			return err
		}
		batch.Put(vaultKey, encodedVault)
	}
	for addr, acct := range accounts {
		encoded, err := encodeAccount(acct)
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), encoded)
	}
	return batch.Write()
}

var _ escrow.State = (*Manager)(nil)
