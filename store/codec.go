package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Entries are persisted as a one-byte format tag followed by a
// zstd-compressed JSON envelope. The tag allows the on-disk format to
// evolve without a store-generation bump.
const codecZstdJSON = 0x01

// ErrCodec is returned when a persisted entry cannot be decoded.
var ErrCodec = errors.New("store: malformed entry")

// EncodeAll/DecodeAll on shared instances are safe for concurrent use.
var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// EncodeEntry serializes an entry for persistence.
func EncodeEntry(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = codecZstdJSON
	return zstdEnc.EncodeAll(raw, out), nil
}

// DecodeEntry deserializes an entry produced by EncodeEntry.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < 1 {
		return nil, ErrCodec
	}
	if data[0] != codecZstdJSON {
		return nil, fmt.Errorf("%w: unknown format tag 0x%02x", ErrCodec, data[0])
	}
	raw, err := zstdDec.DecodeAll(data[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return &e, nil
}
