// Package message encodes and drains the null-terminated UTF-16LE text
// messages exchanged over a samplepipe endpoint.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// DefaultMaxUnits is the per-direction message limit in UTF-16 code units,
// terminator included.
const DefaultMaxUnits = 1024

// UnitSize is the width of one UTF-16 code unit on the wire.
const UnitSize = 2

var (
	// ErrTooLarge reports a message that does not fit the unit limit.
	ErrTooLarge = errors.New("message exceeds maximum size")
	// ErrMoreData is returned by a ChunkReader while the current message
	// still has unread bytes. It is never terminal.
	ErrMoreData = errors.New("more data is available")
	// ErrMalformed reports a payload that is not terminated UTF-16LE text.
	ErrMalformed = errors.New("malformed message")
)

var codec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Units returns the number of code units text occupies on the wire,
// terminator included.
func Units(text string) int {
	n := 1
	for _, r := range text {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
			continue
		}
		n++
	}
	return n
}

// CheckText reports ErrMalformed when text contains a zero code unit.
func CheckText(text string) error {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return fmt.Errorf("%w: NUL at byte %d", ErrMalformed, i)
	}
	return nil
}

// MaxBytes converts a unit limit into a byte limit.
func MaxBytes(maxUnits int) int {
	return maxUnits * UnitSize
}

// Encode renders text as terminated UTF-16LE. Texts longer than maxUnits
// (terminator included) are rejected, never truncated. Texts containing
// U+0000 are rejected since the terminator would cut them short.
func Encode(text string, maxUnits int) ([]byte, error) {
	if err := CheckText(text); err != nil {
		return nil, err
	}
	if units := Units(text); units > maxUnits {
		return nil, fmt.Errorf("%w: %d units, limit %d", ErrTooLarge, units, maxUnits)
	}

	encoded, err := codec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(encoded, 0, 0), nil
}

// Decode parses terminated UTF-16LE bytes. Bytes after the first terminator
// are ignored; a payload without a terminator is accepted as-is.
func Decode(raw []byte) (string, error) {
	if len(raw)%UnitSize != 0 {
		return "", fmt.Errorf("%w: odd byte count %d", ErrMalformed, len(raw))
	}

	if end := terminatorOffset(raw); end >= 0 {
		raw = raw[:end]
	}

	decoded, err := codec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(decoded), nil
}

// terminatorOffset returns the byte offset of the first zero code unit, or -1.
func terminatorOffset(raw []byte) int {
	for i := 0; i+1 < len(raw); i += UnitSize {
		if raw[i] == 0 && raw[i+1] == 0 {
			return i
		}
	}
	return -1
}

// Terminated reports whether raw ends with a zero code unit at an even offset.
func Terminated(raw []byte) bool {
	n := len(raw)
	return n >= UnitSize && n%UnitSize == 0 && bytes.Equal(raw[n-UnitSize:], []byte{0, 0})
}
