package escrow

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"escrowledger/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowDeposited = "escrow.deposited"
	EventTypeEscrowApproved  = "escrow.approved"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowDisputed  = "escrow.disputed"
	EventTypeEscrowResolved  = "escrow.resolved"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow. value is the initial deposit taken into custody.
func NewCreatedEvent(t *Transaction, value string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCreated, t, t.Buyer)
	evt.Attributes["value"] = value
	return evt
}

// NewDepositedEvent is emitted when value is added to an open escrow.
func NewDepositedEvent(t *Transaction, actor common.Address, value string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDeposited, t, actor)
	evt.Attributes["value"] = value
	return evt
}

// NewApprovedEvent records a single party's approval.
func NewApprovedEvent(t *Transaction, party common.Address) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowApproved, t, party)
	evt.Attributes["party"] = partyRole(t, party)
	return evt
}

// NewReleasedEvent is emitted when both approvals completed the escrow and the
// seller was paid.
func NewReleasedEvent(t *Transaction, actor common.Address) *types.Event {
	return newEscrowEvent(EventTypeEscrowReleased, t, actor)
}

// NewDisputedEvent returns the canonical event payload emitted when an escrow is
// marked as disputed.
func NewDisputedEvent(t *Transaction, actor common.Address) *types.Event {
	return newEscrowEvent(EventTypeEscrowDisputed, t, actor)
}

// NewResolvedEvent returns the canonical event payload emitted when the
// arbitrator settles a dispute.
func NewResolvedEvent(t *Transaction, actor common.Address) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, t, actor)
	evt.Attributes["winner"] = partyRole(t, t.Payee)
	return evt
}

func newEscrowEvent(eventType string, t *Transaction, actor common.Address) *types.Event {
	attrs := map[string]string{
		"id":             strconv.FormatUint(t.ID, 10),
		"buyer":          t.Buyer.Hex(),
		"seller":         t.Seller.Hex(),
		"arbitrator":     t.Arbitrator.Hex(),
		"amount":         amountString(t.Amount),
		"status":         t.Status.String(),
		"actor":          actor.Hex(),
		"buyerApproved":  strconv.FormatBool(t.BuyerApproved),
		"sellerApproved": strconv.FormatBool(t.SellerApproved),
	}
	if t.Payee != (common.Address{}) {
		attrs["payee"] = t.Payee.Hex()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func partyRole(t *Transaction, addr common.Address) string {
	switch addr {
	case t.Buyer:
		return "buyer"
	case t.Seller:
		return "seller"
	default:
		return ""
	}
}
