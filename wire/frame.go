package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/crc"
)

const (
	Magic      = uint16(0xcafe)
	Version    = byte(1)
	HeaderSize = 2 /*magic*/ + 1 /*version*/ + 1 /*type*/ + 4 /*seq*/ + 2 /*len*/ + 2 /*crc*/

	// IPv4 UDP payload limit: 65535 - 20 (ip) - 8 (udp).
	MaxDatagram = 65507

	// Largest frame fits into one UDP datagram.
	MaxFrame   = MaxDatagram
	MaxPayload = MaxFrame - HeaderSize

	crcOffset = 10
)

var (
	ErrTooShort         = fmt.Errorf("frame too short")
	ErrBadMagic         = fmt.Errorf("frame bad magic")
	ErrVersionMismatch  = fmt.Errorf("frame version mismatch")
	ErrLengthMismatch   = fmt.Errorf("frame length mismatch")
	ErrChecksumMismatch = fmt.Errorf("frame checksum mismatch")
	ErrPayloadOverflow  = fmt.Errorf("frame payload is too large")
)

type Type byte

const (
	TypeInvalid Type = iota
	TypeDiscover
	TypeOffer
	TypeReqRange
	TypeDay
	TypeMonth
	TypeAck
	TypeDone
)

func (t Type) String() string {
	switch t {
	case TypeDiscover:
		return "DISCOVER"
	case TypeOffer:
		return "OFFER"
	case TypeReqRange:
		return "REQ_RANGE"
	case TypeDay:
		return "DAY"
	case TypeMonth:
		return "MON"
	case TypeAck:
		return "ACK"
	case TypeDone:
		return "DONE"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

func (t Type) Valid() bool { return t >= TypeDiscover && t <= TypeDone }

type Header struct {
	Magic   uint16
	Version byte
	Type    Type
	Seq     uint32
	Len     uint16
	CRC     uint16
}

// Put writes HeaderSize bytes into b.
func (h *Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:], h.Magic)
	b[2] = h.Version
	b[3] = byte(h.Type)
	binary.LittleEndian.PutUint32(b[4:], h.Seq)
	binary.LittleEndian.PutUint16(b[8:], h.Len)
	binary.LittleEndian.PutUint16(b[crcOffset:], h.CRC)
}

// ParseHeader does not validate anything except size.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Annotatef(ErrTooShort, "length=%d", len(b))
	}
	return Header{
		Magic:   binary.LittleEndian.Uint16(b[0:]),
		Version: b[2],
		Type:    Type(b[3]),
		Seq:     binary.LittleEndian.Uint32(b[4:]),
		Len:     binary.LittleEndian.Uint16(b[8:]),
		CRC:     binary.LittleEndian.Uint16(b[crcOffset:]),
	}, nil
}

type Frame struct {
	Header
	Payload []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("(type=%s seq=%d len=%d crc=%04x)", f.Type, f.Seq, f.Len, f.CRC)
}

// Encode is pure: returns new buffer, header.len=len(payload).
func Encode(t Type, seq uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Annotatef(ErrPayloadOverflow, "length=%d", len(payload))
	}
	b := make([]byte, HeaderSize+len(payload))
	h := Header{
		Magic:   Magic,
		Version: Version,
		Type:    t,
		Seq:     seq,
		Len:     uint16(len(payload)),
	}
	h.Put(b)
	copy(b[HeaderSize:], payload)
	h.CRC = crc.CCITT(b[:HeaderSize], b[HeaderSize:])
	binary.LittleEndian.PutUint16(b[crcOffset:], h.CRC)
	return b, nil
}

// Checksum computes frame CRC over raw bytes, ignoring stored crc field.
// Everything after header counts as payload.
func Checksum(b []byte) uint16 {
	var hdr [HeaderSize]byte
	copy(hdr[:], b)
	hdr[crcOffset], hdr[crcOffset+1] = 0, 0
	var payload []byte
	if len(b) > HeaderSize {
		payload = b[HeaderSize:]
	}
	return crc.CCITT(hdr[:], payload)
}

// Verify recomputes checksum of raw frame bytes.
// Only size is checked besides checksum, so any single bit flip is reported as ErrChecksumMismatch.
func Verify(b []byte) error {
	h, err := ParseHeader(b)
	if err != nil {
		return err
	}
	if actual := Checksum(b); actual != h.CRC {
		return errors.Annotatef(ErrChecksumMismatch, "declared=%04x actual=%04x", h.CRC, actual)
	}
	return nil
}

// Decode validates frame in order: size, magic, version, length, checksum.
// Returned payload is a copy, b is not retained.
func Decode(b []byte) (Frame, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, errors.Annotatef(ErrBadMagic, "magic=%04x", h.Magic)
	}
	if h.Version != Version {
		return Frame{}, errors.Annotatef(ErrVersionMismatch, "version=%d expected=%d", h.Version, Version)
	}
	if available := len(b) - HeaderSize; int(h.Len) != available {
		return Frame{}, errors.Annotatef(ErrLengthMismatch, "declared=%d available=%d", h.Len, available)
	}
	if err = Verify(b); err != nil {
		return Frame{}, err
	}
	f := Frame{Header: h}
	if h.Len != 0 {
		f.Payload = make([]byte, h.Len)
		copy(f.Payload, b[HeaderSize:])
	}
	return f, nil
}

// IsDecodeError tells whether err came from Decode/Verify.
func IsDecodeError(err error) bool {
	switch errors.Cause(err) {
	case ErrTooShort, ErrBadMagic, ErrVersionMismatch, ErrLengthMismatch, ErrChecksumMismatch:
		return true
	}
	return false
}
