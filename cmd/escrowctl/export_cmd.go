package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"escrowledger/core/state"
	"escrowledger/integrations/exports"
	"escrowledger/native/escrow"
	"escrowledger/storage"
)

var exportFormats = map[string]func([]*escrow.Transaction) ([]byte, string, error){
	"csv":     exports.TransactionsCSV,
	"jsonl":   exports.TransactionsJSONL,
	"parquet": exports.TransactionsParquet,
}

func runExportCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export", stderr)
	var (
		backend string
		path    string
		format  string
		out     string
		status  string
		from    uint64
		to      uint64
	)
	fs.StringVar(&backend, "backend", storage.BackendLevelDB, "storage backend (leveldb, bolt, sqlite)")
	fs.StringVar(&path, "path", "", "storage path used by escrowd")
	fs.StringVar(&format, "format", "csv", "output format (csv, jsonl, parquet)")
	fs.StringVar(&out, "out", "", "output file (stdout when empty)")
	fs.StringVar(&status, "status", "", "only export escrows in this status")
	fs.Uint64Var(&from, "from", 0, "first escrow id")
	fs.Uint64Var(&to, "to", math.MaxUint64, "escrow id to stop before")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	encode, ok := exportFormats[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return printError(stderr, fmt.Sprintf("unsupported format %q", format))
	}
	if strings.TrimSpace(path) == "" {
		return printError(stderr, "--path is required")
	}
	var filter *escrow.Status
	if strings.TrimSpace(status) != "" {
		parsed, err := escrow.ParseStatus(status)
		if err != nil {
			return printError(stderr, err.Error())
		}
		filter = &parsed
	}

	db, err := storage.Open(strings.ToLower(strings.TrimSpace(backend)), path)
	if err != nil {
		return printError(stderr, fmt.Sprintf("open storage: %v", err))
	}
	defer db.Close()

	txs, err := state.NewManager(db).Transactions(from, to)
	if err != nil {
		return printError(stderr, fmt.Sprintf("load escrows: %v", err))
	}
	if filter != nil {
		kept := txs[:0]
		for _, tx := range txs {
			if tx.Status == *filter {
				kept = append(kept, tx)
			}
		}
		txs = kept
	}
	data, checksum, err := encode(txs)
	if err != nil {
		return printError(stderr, fmt.Sprintf("encode %s: %v", format, err))
	}
	if out == "" {
		if _, err := stdout.Write(data); err != nil {
			return printError(stderr, err.Error())
		}
		fmt.Fprintf(stderr, "exported %d escrows, sha256 %s\n", len(txs), checksum)
		return 0
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return printError(stderr, fmt.Sprintf("write %s: %v", out, err))
	}
	fmt.Fprintf(stdout, "exported %d escrows to %s (sha256 %s)\n", len(txs), out, checksum)
	return 0
}
