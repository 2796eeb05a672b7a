package state

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"escrowledger/native/escrow"
	"escrowledger/storage"
)

func testAddr(fill byte) common.Address {
	return common.BytesToAddress(bytes.Repeat([]byte{fill}, common.AddressLength))
}

var (
	buyer      = testAddr(0x01)
	seller     = testAddr(0x02)
	arbitrator = testAddr(0x03)
)

type failingBatchDB struct {
	storage.Database
}

type failingBatch struct {
	storage.Batch
}

func (f failingBatchDB) NewBatch() storage.Batch {
	return failingBatch{Batch: f.Database.NewBatch()}
}

func (failingBatch) Write() error { return errors.New("write refused") }

func newTransaction(id uint64, amount uint64) *escrow.Transaction {
	return &escrow.Transaction{
		ID:         id,
		Buyer:      buyer,
		Seller:     seller,
		Arbitrator: arbitrator,
		Amount:     uint256.NewInt(amount),
		Status:     escrow.StatusInProgress,
		CreatedAt:  1_700_000_000,
		UpdatedAt:  1_700_000_000,
	}
}

func TestManagerEmpty(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	count, err := m.TransactionCount()
	require.NoError(t, err)
	require.Zero(t, count)

	_, ok, err := m.TransactionGet(0)
	require.NoError(t, err)
	require.False(t, ok)

	bal, err := m.Balance(buyer)
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	custody, err := m.CustodyBalance()
	require.NoError(t, err)
	require.True(t, custody.IsZero())
}

func TestManagerCommitCreateMovesFunds(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.Credit(buyer, uint256.NewInt(100)))

	tx := newTransaction(0, 60)
	err := m.Commit(&escrow.Changeset{
		Transaction: tx,
		Created:     true,
		Inflow:      &escrow.Transfer{Party: buyer, Amount: uint256.NewInt(60)},
	})
	require.NoError(t, err)

	count, err := m.TransactionCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	stored, ok, err := m.TransactionGet(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.Buyer, stored.Buyer)
	require.Equal(t, tx.Arbitrator, stored.Arbitrator)
	require.Equal(t, "60", stored.Amount.Dec())
	require.Equal(t, escrow.StatusInProgress, stored.Status)
	require.Equal(t, int64(1_700_000_000), stored.CreatedAt)

	bal, err := m.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(40), bal.Uint64())
	custody, err := m.CustodyBalance()
	require.NoError(t, err)
	require.Equal(t, uint64(60), custody.Uint64())
}

func TestManagerCommitInsufficientFunds(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.Credit(buyer, uint256.NewInt(5)))

	err := m.Commit(&escrow.Changeset{
		Transaction: newTransaction(0, 6),
		Created:     true,
		Inflow:      &escrow.Transfer{Party: buyer, Amount: uint256.NewInt(6)},
	})
	require.ErrorIs(t, err, escrow.ErrTransferFailed)

	count, err := m.TransactionCount()
	require.NoError(t, err)
	require.Zero(t, count)
	bal, err := m.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(5), bal.Uint64())
}

func TestManagerPayoutAndFrozenRecipient(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.Credit(buyer, uint256.NewInt(10)))
	tx := newTransaction(0, 10)
	require.NoError(t, m.Commit(&escrow.Changeset{
		Transaction: tx,
		Created:     true,
		Inflow:      &escrow.Transfer{Party: buyer, Amount: uint256.NewInt(10)},
	}))

	require.NoError(t, m.SetFrozen(seller, true))
	done := tx.Clone()
	done.Status = escrow.StatusCompleted
	done.Payee = seller
	payout := &escrow.Changeset{
		Transaction: done,
		Payout:      &escrow.Transfer{Party: seller, Amount: uint256.NewInt(10)},
	}
	err := m.Commit(payout)
	require.ErrorIs(t, err, escrow.ErrTransferFailed)
	require.Contains(t, err.Error(), "recipient rejects transfer")

	stored, _, err := m.TransactionGet(0)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusInProgress, stored.Status)

	require.NoError(t, m.SetFrozen(seller, false))
	require.NoError(t, m.Commit(payout))

	acct, err := m.Account(seller)
	require.NoError(t, err)
	require.Equal(t, uint64(10), acct.Balance.Uint64())
	require.False(t, acct.Frozen)
	custody, err := m.CustodyBalance()
	require.NoError(t, err)
	require.True(t, custody.IsZero())

	stored, _, err = m.TransactionGet(0)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, stored.Status)
	require.Equal(t, seller, stored.Payee)
	require.Equal(t, uint64(10), stored.Amount.Uint64())
}

func TestManagerPayoutExceedingCustodyFails(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.Commit(&escrow.Changeset{
		Transaction: newTransaction(0, 1),
		Payout:      &escrow.Transfer{Party: seller, Amount: uint256.NewInt(1)},
	})
	require.ErrorIs(t, err, escrow.ErrTransferFailed)
}

func TestManagerBatchFailureIsAtomic(t *testing.T) {
	mem := storage.NewMemDB()
	m := NewManager(mem)
	require.NoError(t, m.Credit(buyer, uint256.NewInt(10)))

	failing := NewManager(failingBatchDB{Database: mem})
	err := failing.Commit(&escrow.Changeset{
		Transaction: newTransaction(0, 10),
		Created:     true,
		Inflow:      &escrow.Transfer{Party: buyer, Amount: uint256.NewInt(10)},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, escrow.ErrTransferFailed)

	count, err := m.TransactionCount()
	require.NoError(t, err)
	require.Zero(t, count)
	bal, err := m.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal.Uint64())
}

func TestManagerTransactionsRange(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	for id := uint64(0); id < 3; id++ {
		require.NoError(t, m.Commit(&escrow.Changeset{Transaction: newTransaction(id, id), Created: true}))
	}
	all, err := m.Transactions(0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(2), all[2].ID)

	some, err := m.Transactions(1, 2)
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.Equal(t, uint64(1), some[0].ID)

	none, err := m.Transactions(5, 9)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestManagerRejectsNilChangeset(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.ErrorIs(t, m.Commit(nil), errNilChangeset)
	require.ErrorIs(t, m.Commit(&escrow.Changeset{}), errNilChangeset)
}

func TestManagerCreditOverflow(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.Credit(buyer, new(uint256.Int).SetAllOne()))
	require.ErrorIs(t, m.Credit(buyer, uint256.NewInt(1)), errBalanceOverflow)
}

func TestManagerWithEngineOnBolt(t *testing.T) {
	db, err := storage.Open(storage.BackendBolt, t.TempDir()+"/ledger.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := NewManager(db)
	require.NoError(t, m.Credit(buyer, uint256.NewInt(1_000_000_000_000_000_000)))
	engine := escrow.NewEngine(m)

	id, err := engine.CreateEscrow(buyer, seller, arbitrator, uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, err)
	require.Zero(t, id)
	require.NoError(t, engine.ApproveRelease(id, buyer))
	require.NoError(t, engine.ApproveRelease(id, seller))

	bal, err := m.Balance(seller)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", bal.Dec())

	tx, err := engine.Transaction(id)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, tx.Status)
	require.True(t, tx.BuyerApproved)
	require.True(t, tx.SellerApproved)
}
