package txlog

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"
)

// Committed transaction and block records are append-only and never
// rewritten, so a shared encoder/decoder pair (rather than one per call)
// is safe: concurrent PutTxn/GetTxn calls only ever append or read
// independent entries, never mutate one another's output.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func marshalJSON(v interface{}) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(plain, nil), nil
}

func unmarshalJSON(data []byte, v interface{}) error {
	plain, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}
