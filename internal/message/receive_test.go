package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type chunkedReader struct {
	payload []byte
	reads   int
	err     error
}

func (r *chunkedReader) ReadChunk(p []byte) (int, error) {
	r.reads++
	if r.err != nil {
		return 0, r.err
	}
	n := copy(p, r.payload)
	r.payload = r.payload[n:]
	if len(r.payload) > 0 {
		return n, ErrMoreData
	}
	return n, nil
}

func TestReceiveDrainsMoreData(t *testing.T) {
	raw, err := Encode("Default response from server", DefaultMaxUnits)
	require.NoError(t, err)

	reader := &chunkedReader{payload: raw}
	var sizes []int
	got, err := Receive(reader, 16, MaxBytes(DefaultMaxUnits), func(n int) { sizes = append(sizes, n) })
	require.NoError(t, err)
	require.Equal(t, raw, got)
	require.Equal(t, 4, reader.reads)
	require.Equal(t, []int{16, 16, 16, 10}, sizes)
}

func TestReceiveSingleChunk(t *testing.T) {
	raw, err := Encode("hi", DefaultMaxUnits)
	require.NoError(t, err)

	got, err := Receive(&chunkedReader{payload: raw}, MaxBytes(DefaultMaxUnits), 0, nil)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestReceiveAbortsOnTransportError(t *testing.T) {
	boom := errors.New("broken pipe")
	_, err := Receive(&chunkedReader{err: boom}, 8, 0, nil)
	require.ErrorIs(t, err, boom)
}

func TestReceiveRejectsOversizedMessage(t *testing.T) {
	reader := &chunkedReader{payload: make([]byte, 64)}
	_, err := Receive(reader, 8, 32, nil)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestReceiveRejectsInvalidChunkSize(t *testing.T) {
	_, err := Receive(&chunkedReader{}, 0, 0, nil)
	require.Error(t, err)
}
