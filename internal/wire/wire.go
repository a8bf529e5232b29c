// Package wire frames the records tiermap writes into its backends.
//
// Every record starts with magic(4) | ver(1) | kind(1) so foreign or truncated
// bytes are detected instead of being handed to a caller as a value.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version       byte = 1
	kindEntry     byte = 1
	kindTombstone byte = 2
	kindStamped   byte = 3

	header = 4 + 1 + 1
)

var (
	ErrCorrupt = errors.New("tiermap: corrupt record")
	magic4     = [...]byte{'T', 'M', 'A', 'P'}
)

// Record is a decoded entry or tombstone. Value is nil for a tombstone.
type Record struct {
	Key       string
	Value     []byte
	Tombstone bool
}

func hasHeader(b []byte, kind byte) bool {
	return len(b) >= header && bytes.Equal(b[:4], magic4[:]) && b[4] == version && b[5] == kind
}

func kindOf(b []byte) byte {
	if len(b) < header || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0
	}
	return b[5]
}

// Entry: magic(4) | ver(1) | kind(1=entry) | klen(u32 be) | key(klen) | vlen(u32 be) | value(vlen)
func EncodeEntry(key string, value []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(header + 4 + len(key) + 4 + len(value))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(key)))
	buf.Write(u4[:])
	buf.WriteString(key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(value)))
	buf.Write(u4[:])
	buf.Write(value)
	return buf.Bytes()
}

// Tombstone: magic(4) | ver(1) | kind(2=tombstone)
func EncodeTombstone() []byte {
	b := make([]byte, 0, header)
	b = append(b, magic4[:]...)
	return append(b, version, kindTombstone)
}

// DecodeRecord parses an entry or a tombstone. The returned Value is a copy and
// never aliases b. Trailing bytes are rejected.
func DecodeRecord(b []byte) (Record, error) {
	switch kindOf(b) {
	case kindTombstone:
		if len(b) != header {
			return Record{}, ErrCorrupt
		}
		return Record{Tombstone: true}, nil
	case kindEntry:
	default:
		return Record{}, ErrCorrupt
	}

	off := header
	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	klen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if klen < 0 || klen > len(b)-off {
		return Record{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}
	value := make([]byte, vlen)
	copy(value, b[off:])
	return Record{Key: key, Value: value}, nil
}

// Stamped: magic(4) | ver(1) | kind(3=stamped) | token(u64 be) | dlen(u32 be) | data(dlen)
//
// Used by in-process cache backends that keep the CAS token next to the data.
func EncodeStamped(token uint64, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(header + 8 + 4 + len(data))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindStamped)

	var u8 [8]byte
	var u4 [4]byte
	binary.BigEndian.PutUint64(u8[:], token)
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(data)))
	buf.Write(u4[:])
	buf.Write(data)
	return buf.Bytes()
}

// DecodeStamped returns the token and a slice of b holding the data.
func DecodeStamped(b []byte) (token uint64, data []byte, err error) {
	const hdr = header + 8 + 4
	if len(b) < hdr || !hasHeader(b, kindStamped) {
		return 0, nil, ErrCorrupt
	}
	off := header
	token = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	dlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if dlen < 0 || dlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return token, b[off:], nil
}
