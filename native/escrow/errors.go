package escrow

import "errors"

var (
	ErrUnknownTransaction = errors.New("escrow: unknown transaction")
	ErrInvalidState       = errors.New("escrow: invalid state")
	ErrUnauthorized       = errors.New("escrow: unauthorized")
	ErrInvalidParty       = errors.New("escrow: invalid party")
	ErrTransferFailed     = errors.New("escrow: transfer failed")

	errNilState = errors.New("escrow engine: state not configured")
)

// Kind classifies ledger errors for adapters that translate them into
// protocol status codes.
type Kind uint8

const (
	KindNone Kind = iota
	KindUnknownTransaction
	KindInvalidState
	KindUnauthorized
	KindInvalidParty
	KindTransferFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindUnknownTransaction:
		return "UnknownTransaction"
	case KindInvalidState:
		return "InvalidState"
	case KindUnauthorized:
		return "Unauthorized"
	case KindInvalidParty:
		return "InvalidParty"
	case KindTransferFailed:
		return "TransferFailed"
	default:
		return "Internal"
	}
}

// KindOf returns the kind of err. A nil error has KindNone and errors outside
// the ledger's set are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnknownTransaction):
		return KindUnknownTransaction
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidParty):
		return KindInvalidParty
	case errors.Is(err, ErrTransferFailed):
		return KindTransferFailed
	default:
		return KindInternal
	}
}
