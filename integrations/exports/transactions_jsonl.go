package exports

import (
	"bytes"
	"encoding/json"

	"escrowledger/native/escrow"
)

// TransactionsJSONL builds a JSON Lines export for the supplied transactions
// and returns the serialised payload alongside a checksum.
func TransactionsJSONL(txs []*escrow.Transaction) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if err := encoder.Encode(newRow(tx)); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}
