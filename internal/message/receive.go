package message

import (
	"errors"
	"fmt"
)

// ChunkReader yields one logical message in one or more chunks. ReadChunk
// returns ErrMoreData alongside a partial chunk while the message continues.
type ChunkReader interface {
	ReadChunk(p []byte) (int, error)
}

// Receive drains one logical message from r using chunkSize-byte reads.
// onChunk, when set, is called after every chunk with its byte count.
func Receive(r ChunkReader, chunkSize, maxBytes int, onChunk func(n int)) ([]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	var (
		buf   []byte
		chunk = make([]byte, chunkSize)
	)

	for {
		n, err := r.ReadChunk(chunk)
		more := errors.Is(err, ErrMoreData)
		if err != nil && !more {
			return nil, err
		}

		buf = append(buf, chunk[:n]...)
		if onChunk != nil {
			onChunk(n)
		}
		if maxBytes > 0 && len(buf) > maxBytes {
			return nil, fmt.Errorf("%w: received %d bytes, limit %d", ErrTooLarge, len(buf), maxBytes)
		}
		if !more {
			return buf, nil
		}
	}
}
