package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"escrowledger/native/escrow"
)

var csvHeader = []string{
	"id", "buyer", "seller", "arbitrator", "amount", "custodied", "status",
	"buyer_approved", "seller_approved", "payee", "created_at", "updated_at",
}

// TransactionsCSV builds a CSV export for the supplied transactions and returns
// the serialised data alongside a SHA-256 checksum of the payload.
func TransactionsCSV(txs []*escrow.Transaction) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		row := newRow(tx)
		record := []string{
			strconv.FormatUint(row.ID, 10),
			row.Buyer,
			row.Seller,
			row.Arbitrator,
			row.Amount,
			row.Custodied,
			row.Status,
			strconv.FormatBool(row.BuyerApproved),
			strconv.FormatBool(row.SellerApproved),
			row.Payee,
			row.CreatedAt,
			row.UpdatedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// row is the flattened, string-typed form shared by every export format.
type row struct {
	ID             uint64 `json:"id"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	Arbitrator     string `json:"arbitrator"`
	Amount         string `json:"amount"`
	Custodied      string `json:"custodied"`
	Status         string `json:"status"`
	BuyerApproved  bool   `json:"buyer_approved"`
	SellerApproved bool   `json:"seller_approved"`
	Payee          string `json:"payee,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func newRow(tx *escrow.Transaction) row {
	r := row{
		ID:             tx.ID,
		Buyer:          tx.Buyer.Hex(),
		Seller:         tx.Seller.Hex(),
		Arbitrator:     tx.Arbitrator.Hex(),
		Amount:         escrow.FormatAmount(tx.Amount),
		Custodied:      escrow.FormatAmount(tx.Custodied()),
		Status:         tx.Status.String(),
		BuyerApproved:  tx.BuyerApproved,
		SellerApproved: tx.SellerApproved,
		CreatedAt:      formatUnix(tx.CreatedAt),
		UpdatedAt:      formatUnix(tx.UpdatedAt),
	}
	if tx.Status == escrow.StatusCompleted {
		r.Payee = tx.Payee.Hex()
	}
	return r
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func checksummed(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
