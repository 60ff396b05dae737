package util

import (
	"fmt"

	"github.com/vmihailenco/msgpack"

	"github.com/rivetdb/rivet/storage/disk"
)

// ToByteSlice msgpack-encodes obj into a zero-padded, disk.PageSize buffer.
// It errors instead of silently truncating when the encoding overflows the
// page.
func ToByteSlice[T any](obj T) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode page payload: %w", err)
	}

	if len(data) > disk.PageSize {
		return nil, fmt.Errorf("encoded payload of %d bytes exceeds page size %d", len(data), disk.PageSize)
	}

	res := make([]byte, disk.PageSize)
	copy(res, data)
	return res, nil
}

// ToStruct msgpack-decodes a page buffer back into T. A page that has never
// been written (all-zero, as produced by NewPage/frame.reset) decodes to the
// zero value of T rather than erroring on the malformed encoding.
func ToStruct[T any](data []byte) (T, error) {
	var res T

	if isZeroed(data) {
		return res, nil
	}

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode page payload: %w", err)
	}

	return res, nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
