package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	first, err := Encode(ts, Record{"message": "hello", "pid": 42})
	require.NoError(t, err)
	second, err := Encode(ts.Add(time.Second), Record{"message": "world"})
	require.NoError(t, err)

	entries, err := Decode(append(first, second...))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ts.Unix(), entries[0].Time.Unix())
	assert.Equal(t, "hello", entries[0].Record["message"])
	assert.EqualValues(t, 42, entries[0].Record["pid"])
	assert.Equal(t, "world", entries[1].Record["message"])
}

func TestAppendBatchesEntries(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	var buf []byte
	var err error
	for i := 0; i < 3; i++ {
		buf, err = Append(buf, ts, Record{"seq": i})
		require.NoError(t, err)
	}

	entries, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.EqualValues(t, 2, entries[2].Record["seq"])
}

func TestEncodeNilRecord(t *testing.T) {
	_, err := Encode(time.Now(), nil)
	assert.Error(t, err)
}

func TestDecodeEmpty(t *testing.T) {
	entries, err := Decode(nil)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(time.Now(), Record{"k": "v"})
	require.NoError(t, err)

	_, err = Decode(data[:len(data)-2])
	assert.Error(t, err)
}
