package exports

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"escrowledger/native/escrow"
)

type parquetRow struct {
	ID             int64  `parquet:"name=id, type=INT64"`
	Buyer          string `parquet:"name=buyer, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Seller         string `parquet:"name=seller, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Arbitrator     string `parquet:"name=arbitrator, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount         string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Custodied      string `parquet:"name=custodied, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Status         string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	BuyerApproved  bool   `parquet:"name=buyer_approved, type=BOOLEAN"`
	SellerApproved bool   `parquet:"name=seller_approved, type=BOOLEAN"`
	Payee          string `parquet:"name=payee, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedAt      string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	UpdatedAt      string `parquet:"name=updated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// TransactionsParquet builds a Snappy-compressed Parquet export. Amounts are
// kept as decimal strings since they exceed 64 bits.
func TransactionsParquet(txs []*escrow.Transaction) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, tx := range txs {
		if tx == nil {
			continue
		}
		r := newRow(tx)
		if err := pw.Write(&parquetRow{
			ID:             int64(r.ID),
			Buyer:          r.Buyer,
			Seller:         r.Seller,
			Arbitrator:     r.Arbitrator,
			Amount:         r.Amount,
			Custodied:      r.Custodied,
			Status:         r.Status,
			BuyerApproved:  r.BuyerApproved,
			SellerApproved: r.SellerApproved,
			Payee:          r.Payee,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		}); err != nil {
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	return checksummed(buffer.Bytes())
}
