package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/sessionid"
)

// MessageType is the single-byte wire discriminator.
type MessageType byte

const (
	// InvalidateCacheEntry asks the addressed session to drop its
	// read-lock on Path because another session wants the write-lock.
	InvalidateCacheEntry MessageType = 1
	// ReleasedReadLock announces the sender just released its
	// read-lock on Path.
	ReleasedReadLock MessageType = 2
	// ReleasedWriteLock announces the sender just released its
	// write-lock on Path.
	ReleasedWriteLock MessageType = 3
)

// String returns the wire message type's name, for logging and
// metric labels.
func (t MessageType) String() string {
	switch t {
	case InvalidateCacheEntry:
		return "InvalidateCacheEntry"
	case ReleasedReadLock:
		return "ReleasedReadLock"
	case ReleasedWriteLock:
		return "ReleasedWriteLock"
	default:
		return "Unknown"
	}
}

// ErrMalformedFrame is returned by Decode for truncated or
// otherwise invalid wire data.
var ErrMalformedFrame = errors.New("exchange: malformed frame")

// Frame is a decoded wire message. Session's meaning is type
// dependent: for InvalidateCacheEntry it is the addressee being asked
// to invalidate; for the Released* types it is the sender reporting
// its own release.
type Frame struct {
	Type    MessageType
	Path    coordpath.Path
	Session sessionid.ID
}

// Encode renders f in the exact wire format documented in spec.md
// §4.6: a one-byte discriminator, a varint-length-prefixed escaped
// path, and an i32-LE-length-prefixed session string.
func Encode(f Frame) ([]byte, error) {
	if f.Type < InvalidateCacheEntry || f.Type > ReleasedWriteLock {
		return nil, fmt.Errorf("exchange: invalid message type %d", f.Type)
	}
	pathBytes := []byte(f.Path.String())
	sessionBytes := []byte(f.Session)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(pathBytes)))

	out := make([]byte, 0, 1+n+len(pathBytes)+4+len(sessionBytes))
	out = append(out, byte(f.Type))
	out = append(out, lenBuf[:n]...)
	out = append(out, pathBytes...)

	var sessLen [4]byte
	binary.LittleEndian.PutUint32(sessLen[:], uint32(len(sessionBytes)))
	out = append(out, sessLen[:]...)
	out = append(out, sessionBytes...)
	return out, nil
}

// Decode parses a frame previously produced by Encode.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return Frame{}, ErrMalformedFrame
	}
	typ := MessageType(raw[0])
	if typ < InvalidateCacheEntry || typ > ReleasedWriteLock {
		return Frame{}, ErrMalformedFrame
	}
	rest := raw[1:]

	pathLen, n := binary.Uvarint(rest)
	if n <= 0 {
		return Frame{}, ErrMalformedFrame
	}
	rest = rest[n:]
	if uint64(len(rest)) < pathLen {
		return Frame{}, ErrMalformedFrame
	}
	pathRaw := string(rest[:pathLen])
	rest = rest[pathLen:]

	if len(rest) < 4 {
		return Frame{}, ErrMalformedFrame
	}
	sessLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) != uint64(sessLen) {
		return Frame{}, ErrMalformedFrame
	}

	path, err := coordpath.Parse(pathRaw)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	return Frame{
		Type:    typ,
		Path:    path,
		Session: sessionid.ID(rest),
	}, nil
}
