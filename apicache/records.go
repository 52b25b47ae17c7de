package apicache

import "encoding/json"

// IssuanceEntry is one entry in the issuances/token_code_issuances
// append-only lists: the issued output plus its owner memo, if any.
type IssuanceEntry struct {
	TxoSid   uint64   `json:"txoSid"`
	Asset    [16]byte `json:"asset"`
	Owner    [33]byte `json:"owner"`
	Amount   uint64   `json:"amount"`
	MemoBlob []byte   `json:"memoBlob,omitempty"`
}

// TxoTxnRef is the value of txo_to_txnid[txo_sid].
type TxoTxnRef struct {
	TxnSid  uint64 `json:"txnSid"`
	HashHex string `json:"hashHex"`
}

func marshalJSON(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func unmarshalJSON(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
