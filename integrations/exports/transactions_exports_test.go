package exports

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"

	"escrowledger/native/escrow"
)

func sampleTransactions() []*escrow.Transaction {
	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	arbitrator := common.HexToAddress("0x3333333333333333333333333333333333333333")
	amount, _ := uint256.FromDecimal("1000000000000000000")
	return []*escrow.Transaction{
		{
			ID: 0, Buyer: buyer, Seller: seller, Arbitrator: arbitrator,
			Amount: amount, Status: escrow.StatusCompleted,
			BuyerApproved: true, SellerApproved: true, Payee: seller,
			CreatedAt: 1_700_000_000, UpdatedAt: 1_700_000_600,
		},
		nil,
		{
			ID: 1, Buyer: buyer, Seller: seller, Arbitrator: arbitrator,
			Amount: uint256.NewInt(5), Status: escrow.StatusDisputed,
			CreatedAt: 1_700_000_000, UpdatedAt: 1_700_000_000,
		},
	}
}

func verifyChecksum(t *testing.T, data []byte, checksum string) {
	t.Helper()
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != checksum {
		t.Fatalf("checksum mismatch")
	}
}

func TestTransactionsCSV(t *testing.T) {
	data, checksum, err := TransactionsCSV(sampleTransactions())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	verifyChecksum(t, data, checksum)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(lines))
	}
	if lines[0] != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "1000000000000000000,0,Completed,true,true,0x2222222222222222222222222222222222222222") {
		t.Fatalf("unexpected completed row %q", lines[1])
	}
	if !strings.Contains(lines[2], ",5,5,Disputed,false,false,,") {
		t.Fatalf("unexpected disputed row %q", lines[2])
	}
}

func TestTransactionsJSONL(t *testing.T) {
	data, checksum, err := TransactionsJSONL(sampleTransactions())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	verifyChecksum(t, data, checksum)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var rows []map[string]any
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		rows = append(rows, decoded)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["status"] != "Completed" || rows[0]["custodied"] != "0" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	if _, ok := rows[1]["payee"]; ok {
		t.Fatalf("payee should be omitted for open transactions")
	}
	if rows[1]["created_at"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected timestamp %v", rows[1]["created_at"])
	}
}

func TestTransactionsParquet(t *testing.T) {
	data, checksum, err := TransactionsParquet(sampleTransactions())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	verifyChecksum(t, data, checksum)
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output is not a parquet file")
	}

	pf := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(pf, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Amount != "1000000000000000000" || rows[0].Status != "Completed" || !rows[0].SellerApproved {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].ID != 1 || rows[1].Status != "Disputed" || rows[1].Custodied != "5" {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestEmptyExports(t *testing.T) {
	data, _, err := TransactionsJSONL(nil)
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty jsonl, got %q (%v)", data, err)
	}
	data, _, err = TransactionsCSV(nil)
	if err != nil || strings.Count(string(data), "\n") != 1 {
		t.Fatalf("expected header only, got %q (%v)", data, err)
	}
}
