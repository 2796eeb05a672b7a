package server

import (
	"net/http"

	"escrowledger/native/escrow"
	"escrowledger/services/escrowd/middleware"
)

func statusForKind(kind escrow.Kind) int {
	switch kind {
	case escrow.KindUnknownTransaction:
		return http.StatusNotFound
	case escrow.KindInvalidState:
		return http.StatusConflict
	case escrow.KindUnauthorized:
		return http.StatusForbidden
	case escrow.KindInvalidParty:
		return http.StatusBadRequest
	case escrow.KindTransferFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps ledger failures to HTTP statuses. Internal errors are
// logged and answered without detail.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	kind := escrow.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("escrowd: internal error", "error", err)
		message = "internal error"
	}
	middleware.WriteError(w, status, kind.String(), message)
}
