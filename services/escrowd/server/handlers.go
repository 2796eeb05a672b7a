package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"escrowledger/crypto"
	"escrowledger/native/escrow"
	"escrowledger/services/escrowd/middleware"
)

type transactionView struct {
	ID             uint64        `json:"id"`
	Buyer          string        `json:"buyer"`
	Seller         string        `json:"seller"`
	Arbitrator     string        `json:"arbitrator"`
	Amount         string        `json:"amount"`
	Status         escrow.Status `json:"status"`
	BuyerApproved  bool          `json:"buyerApproved"`
	SellerApproved bool          `json:"sellerApproved"`
	Payee          string        `json:"payee,omitempty"`
	CreatedAt      int64         `json:"createdAt"`
	UpdatedAt      int64         `json:"updatedAt"`
}

func newTransactionView(tx *escrow.Transaction) transactionView {
	view := transactionView{
		ID:             tx.ID,
		Buyer:          tx.Buyer.Hex(),
		Seller:         tx.Seller.Hex(),
		Arbitrator:     tx.Arbitrator.Hex(),
		Amount:         escrow.FormatAmount(tx.Amount),
		Status:         tx.Status,
		BuyerApproved:  tx.BuyerApproved,
		SellerApproved: tx.SellerApproved,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
	if tx.Payee != (common.Address{}) {
		view.Payee = tx.Payee.Hex()
	}
	return view
}

type accountView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Frozen  bool   `json:"frozen"`
}

type historyEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Actor      string            `json:"actor,omitempty"`
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

type createRequest struct {
	Seller     string `json:"seller"`
	Arbitrator string `json:"arbitrator"`
	Value      string `json:"value"`
}

type depositRequest struct {
	Value string `json:"value"`
}

type resolveRequest struct {
	Winner string `json:"winner"`
}

type creditRequest struct {
	Amount string `json:"amount"`
}

type freezeRequest struct {
	Frozen bool `json:"frozen"`
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	var count uint64
	err := s.observe(r.Context(), "count", func() error {
		var err error
		count, err = s.engine.TransactionCount()
		return err
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var tx *escrow.Transaction
	err := s.observe(r.Context(), "get", func() error {
		var err error
		tx, err = s.engine.Transaction(id)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(tx))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		middleware.WriteError(w, http.StatusNotFound, "NotFound", "audit history disabled")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.engine.Transaction(id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	rows, err := s.history.History(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyEntry{
			Sequence:   row.Sequence,
			Type:       row.Type,
			Actor:      row.Actor,
			Status:     row.Status,
			Attributes: row.Attributes,
			RecordedAt: row.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	acct, err := s.bank.Account(addr)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView{
		Address: addr.Hex(),
		Balance: escrow.FormatAmount(acct.Balance),
		Frozen:  acct.Frozen,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := readRequestBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	seller, err := crypto.ParseIdentity(req.Seller)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("seller: %w", err))
		return
	}
	arbitrator, err := crypto.ParseIdentity(req.Arbitrator)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("arbitrator: %w", err))
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var id uint64
	err = s.observe(r.Context(), "create", func() error {
		var err error
		id, err = s.engine.CreateEscrow(caller, seller, arbitrator, value)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := readRequestBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.respondAfter(w, r, "deposit", id, func() error {
		return s.engine.DepositFunds(id, caller, value)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	s.respondAfter(w, r, "approve", id, func() error {
		return s.engine.ApproveRelease(id, caller)
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	s.respondAfter(w, r, "dispute", id, func() error {
		return s.engine.InitiateDispute(id, caller)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := readRequestBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	winner, err := crypto.ParseIdentity(req.Winner)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("winner: %w", err))
		return
	}
	s.respondAfter(w, r, "resolve", id, func() error {
		return s.engine.ResolveDispute(id, caller, winner)
	})
}

// respondAfter runs a state-changing call and answers with the updated record.
func (s *Server) respondAfter(w http.ResponseWriter, r *http.Request, operation string, id uint64, call func() error) {
	if err := s.observe(r.Context(), operation, call); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	tx, err := s.engine.Transaction(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(tx))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := readRequestBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseValue(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.bank.Credit(addr, amount); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		s.logger.Info("escrowd: account credited", "address", addr.Hex(), "amount", amount.Dec(), "operator", p.Subject.Hex())
	}
	s.handleAccount(w, r)
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	var req freezeRequest
	if err := readRequestBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.bank.SetFrozen(addr, req.Frozen); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.handleAccount(w, r)
}

func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthenticated", "caller identity required")
		return common.Address{}, false
	}
	return p.Subject, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid transaction id %q", raw))
		return 0, false
	}
	return id, true
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := crypto.ParseIdentity(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return common.Address{}, false
	}
	return addr, true
}

func parseValue(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("value required")
	}
	return escrow.ParseAmount(raw)
}

func readRequestBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	middleware.WriteError(w, http.StatusBadRequest, "BadRequest", err.Error())
}
