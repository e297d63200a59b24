package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Authentication outcomes written by the server after reading credentials.
const (
	AuthSuccess    = "AUTH_SUCCESS"
	AuthFailed     = "AUTH_FAILED"
	AccountCreated = "ACCOUNT_CREATED"
)

// MaxStringLen is the largest payload a string frame can carry.
const MaxStringLen = math.MaxUint16

var (
	ErrFraming    = errors.New("protocol framing error")
	ErrPeerClosed = fmt.Errorf("%w: peer closed connection", ErrFraming)
)

// IsOutcome reports whether s is one of the three authentication outcomes.
func IsOutcome(s string) bool {
	switch s {
	case AuthSuccess, AuthFailed, AccountCreated:
		return true
	}
	return false
}

// WriteString writes s as a length-prefixed UTF-8 string frame.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: string of %d bytes exceeds %d", ErrFraming, len(s), MaxStringLen)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", ErrFraming)
	}

	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write string frame: %w", err)
	}
	return nil
}

// ReadString reads one string frame.
func ReadString(r io.Reader) (string, error) {
	var hdr [2]byte
	if err := readFull(r, hdr[:], true); err != nil {
		return "", err
	}

	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if err := readFull(r, buf, false); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrFraming)
	}
	return string(buf), nil
}

// WriteBlob writes b as a length-prefixed blob frame.
func WriteBlob(w io.Writer, b []byte) error {
	if int64(len(b)) > math.MaxInt32 {
		return fmt.Errorf("%w: blob of %d bytes exceeds %d", ErrFraming, len(b), math.MaxInt32)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write blob length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write blob body: %w", err)
	}
	return nil
}

// ReadBlob reads one blob frame. A declared length that is negative, or larger than max when max
// is positive, is rejected before any body byte is read.
func ReadBlob(r io.Reader, max int64) ([]byte, error) {
	var hdr [4]byte
	if err := readFull(r, hdr[:], true); err != nil {
		return nil, err
	}

	n := int32(binary.BigEndian.Uint32(hdr[:]))
	if n < 0 {
		return nil, fmt.Errorf("%w: negative blob length %d", ErrFraming, n)
	}
	if max > 0 && int64(n) > max {
		return nil, fmt.Errorf("%w: blob length %d exceeds limit %d", ErrFraming, n, max)
	}

	buf := make([]byte, n)
	if err := readFull(r, buf, false); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFull fills buf. When atBoundary is set, an EOF before the first byte means the peer hung
// up between frames rather than in the middle of one.
func readFull(r io.Reader, buf []byte, atBoundary bool) error {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && n == 0 && atBoundary:
		return ErrPeerClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: truncated frame (%d of %d bytes)", ErrFraming, n, len(buf))
	default:
		return fmt.Errorf("%w: %w", ErrFraming, err)
	}
}
