package escrow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"escrowledger/core/events"
	"escrowledger/core/types"
)

// State is the persistence and custody backend used by the engine. Commit
// must apply the record, the counter update and any value movement in the
// changeset atomically, and report custody failures wrapped in
// ErrTransferFailed.
type State interface {
	TransactionCount() (uint64, error)
	TransactionGet(id uint64) (*Transaction, bool, error)
	Commit(cs *Changeset) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine runs the escrow state machine over a State backend. Calls on the same
// transaction id are serialised; calls on different ids proceed in parallel.
type Engine struct {
	state    State
	emitter  events.Emitter
	nowFn    func() int64
	locks    *keyedMutex
	createMu sync.Mutex
}

// NewEngine creates an escrow engine over state with a no-op emitter.
func NewEngine(state State) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   newKeyedMutex(),
	}
}

// SetNowFunc overrides the time source used for record timestamps. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

// TransactionCount returns the number of transactions created so far, which is
// also the id the next CreateEscrow call will assign.
func (e *Engine) TransactionCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.TransactionCount()
}

// Transaction returns a copy of the record with the given id.
func (e *Engine) Transaction(id uint64) (*Transaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tx, ok, err := e.state.TransactionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownTransaction, id)
	}
	return tx.Clone(), nil
}

// CreateEscrow opens a new transaction funded by caller with value and returns
// its id.
func (e *Engine) CreateEscrow(caller, seller, arbitrator common.Address, value *uint256.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := validateParties(caller, seller, arbitrator); err != nil {
		return 0, err
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	id, err := e.state.TransactionCount()
	if err != nil {
		return 0, err
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	now := e.nowFn()
	amount := cloneAmount(value)
	tx := &Transaction{
		ID:         id,
		Buyer:      caller,
		Seller:     seller,
		Arbitrator: arbitrator,
		Amount:     amount,
		Status:     StatusInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	cs := &Changeset{
		Transaction: tx,
		Created:     true,
		Inflow:      &Transfer{Party: caller, Amount: cloneAmount(amount)},
	}
	if err := e.commit(cs); err != nil {
		return 0, err
	}
	e.emit(NewCreatedEvent(tx, amountString(amount)))
	return id, nil
}

// DepositFunds adds value from caller to an open transaction.
func (e *Engine) DepositFunds(id uint64, caller common.Address, value *uint256.Int) error {
	unlock, tx, err := e.lockTransaction(id)
	if err != nil {
		return err
	}
	defer unlock()

	if tx.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot deposit in status %s", ErrInvalidState, tx.Status)
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("%w: depositor required", ErrInvalidParty)
	}
	deposit := cloneAmount(value)
	total, overflow := new(uint256.Int).AddOverflow(tx.Amount, deposit)
	if overflow {
		return fmt.Errorf("%w: escrow amount overflow", ErrTransferFailed)
	}
	tx.Amount = total
	tx.UpdatedAt = e.nowFn()
	cs := &Changeset{
		Transaction: tx,
		Inflow:      &Transfer{Party: caller, Amount: deposit},
	}
	if err := e.commit(cs); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(tx, caller, amountString(deposit)))
	return nil
}

// ApproveRelease records the caller's approval. Once buyer and seller have
// both approved, the transaction completes and the full amount is paid to the
// seller in the same commit.
func (e *Engine) ApproveRelease(id uint64, caller common.Address) error {
	unlock, tx, err := e.lockTransaction(id)
	if err != nil {
		return err
	}
	defer unlock()

	if tx.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot approve in status %s", ErrInvalidState, tx.Status)
	}
	switch caller {
	case tx.Buyer:
		tx.BuyerApproved = true
	case tx.Seller:
		tx.SellerApproved = true
	default:
		return fmt.Errorf("%w: only buyer or seller may approve", ErrUnauthorized)
	}
	tx.UpdatedAt = e.nowFn()
	cs := &Changeset{Transaction: tx}
	released := tx.BuyerApproved && tx.SellerApproved
	if released {
		tx.Status = StatusCompleted
		tx.Payee = tx.Seller
		cs.Payout = &Transfer{Party: tx.Seller, Amount: cloneAmount(tx.Amount)}
	}
	if err := e.commit(cs); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(tx, caller))
	if released {
		e.emit(NewReleasedEvent(tx, caller))
	}
	return nil
}

// InitiateDispute moves an open transaction into the disputed state. Approval
// flags are left as they are and no longer consulted.
func (e *Engine) InitiateDispute(id uint64, caller common.Address) error {
	unlock, tx, err := e.lockTransaction(id)
	if err != nil {
		return err
	}
	defer unlock()

	if tx.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, tx.Status)
	}
	if !tx.IsParty(caller) {
		return fmt.Errorf("%w: only buyer or seller may dispute", ErrUnauthorized)
	}
	tx.Status = StatusDisputed
	tx.UpdatedAt = e.nowFn()
	if err := e.commit(&Changeset{Transaction: tx}); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(tx, caller))
	return nil
}

// ResolveDispute settles a disputed transaction by paying the full amount to
// winner, who must be the buyer or the seller. Only the arbitrator may call it.
func (e *Engine) ResolveDispute(id uint64, caller, winner common.Address) error {
	unlock, tx, err := e.lockTransaction(id)
	if err != nil {
		return err
	}
	defer unlock()

	if tx.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidState, tx.Status)
	}
	if caller != tx.Arbitrator {
		return fmt.Errorf("%w: only the arbitrator may resolve", ErrUnauthorized)
	}
	if !tx.IsParty(winner) {
		return fmt.Errorf("%w: winner must be buyer or seller", ErrInvalidParty)
	}
	tx.Status = StatusCompleted
	tx.Payee = winner
	tx.UpdatedAt = e.nowFn()
	cs := &Changeset{
		Transaction: tx,
		Payout:      &Transfer{Party: winner, Amount: cloneAmount(tx.Amount)},
	}
	if err := e.commit(cs); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(tx, caller))
	return nil
}

// lockTransaction acquires the per-id lock and loads a private copy of the
// record. The caller must invoke the returned unlock function.
func (e *Engine) lockTransaction(id uint64) (func(), *Transaction, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	unlock := e.locks.Lock(id)
	tx, ok, err := e.state.TransactionGet(id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if !ok {
		unlock()
		return nil, nil, fmt.Errorf("%w: id %d", ErrUnknownTransaction, id)
	}
	return unlock, tx.Clone(), nil
}

func (e *Engine) commit(cs *Changeset) error {
	err := e.state.Commit(cs)
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("escrow: commit transaction %d: %w", cs.Transaction.ID, err)
}

func validateParties(caller, seller, arbitrator common.Address) error {
	zero := common.Address{}
	switch {
	case caller == zero:
		return fmt.Errorf("%w: buyer required", ErrInvalidParty)
	case seller == zero:
		return fmt.Errorf("%w: seller required", ErrInvalidParty)
	case arbitrator == zero:
		return fmt.Errorf("%w: arbitrator required", ErrInvalidParty)
	case seller == arbitrator:
		return fmt.Errorf("%w: seller and arbitrator must differ", ErrInvalidParty)
	case caller == seller || caller == arbitrator:
		return fmt.Errorf("%w: buyer must differ from seller and arbitrator", ErrInvalidParty)
	}
	return nil
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
