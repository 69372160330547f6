package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one structured log/metric record: a free-form field map.
type Record map[string]any

// Entry pairs a record with its collection timestamp. On the wire every
// entry is a two element msgpack array: [unix_seconds, record].
type Entry struct {
	Time   time.Time
	Record Record
}

// Encode serializes a single entry.
func Encode(t time.Time, rec Record) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("nil record")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(t.Unix()); err != nil {
		return nil, err
	}
	if err := enc.Encode(map[string]any(rec)); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// Append serializes one entry and appends it to dst, for callers that
// batch several records into a single region.
func Append(dst []byte, t time.Time, rec Record) ([]byte, error) {
	b, err := Encode(t, rec)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

// Decode parses a region of concatenated entries, as produced by appending
// Encode results back to back.
func Decode(data []byte) ([]Entry, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	var entries []Entry
	for {
		n, err := dec.DecodeArrayLen()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		if n != 2 {
			return entries, fmt.Errorf("malformed entry: array length %d", n)
		}

		sec, err := dec.DecodeInt64()
		if err != nil {
			return entries, err
		}
		rec, err := dec.DecodeMap()
		if err != nil {
			return entries, err
		}

		fields := make(Record, len(rec))
		for k, v := range rec {
			fields[k] = v
		}
		entries = append(entries, Entry{Time: time.Unix(sec, 0), Record: fields})
	}
}
