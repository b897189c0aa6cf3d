package ccsds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PrimaryHeaderLen is the size of the space packet primary header in octets.
const PrimaryHeaderLen = 6

// MaxTCLen is the longest telecommand accepted. Reports carry the packet
// length in 16 bits, so the largest space packet (6+65536 octets) does not fit.
const MaxTCLen = 0xFFFF

// Largest values of the 11-bit APID and 14-bit sequence count fields.
const (
	MaxAPID     = 0x07FF
	MaxSeqCount = 0x3FFF
)

// PacketType is the packet type bit of the primary header.
type PacketType uint8

const (
	Telemetry   PacketType = 0
	Telecommand PacketType = 1
)

// SeqUnsegmented is the sequence-flags value of a standalone packet.
const SeqUnsegmented uint8 = 0b11

var (
	ErrShortHeader     = errors.New("ccsds: buffer shorter than primary header")
	ErrTruncated       = errors.New("ccsds: packet truncated")
	ErrTrailingData    = errors.New("ccsds: trailing data after packet")
	ErrTooLong         = errors.New("ccsds: telecommand too long")
	ErrNotTelecommand  = errors.New("ccsds: packet is not a telecommand")
	ErrUnsupportedVers = errors.New("ccsds: unsupported packet version")
)

// PrimaryHeader is the decoded 6-octet space packet primary header.
type PrimaryHeader struct {
	Version         uint8
	Type            PacketType
	SecondaryHeader bool
	APID            uint16
	SeqFlags        uint8
	SeqCount        uint16
	// DataLength is the packet data field length minus one.
	DataLength uint16
}

// PacketLen returns the total packet length announced by the header.
func (h PrimaryHeader) PacketLen() int {
	return PrimaryHeaderLen + int(h.DataLength) + 1
}

// ParseHeader decodes the primary header at the start of b.
func ParseHeader(b []byte) (PrimaryHeader, error) {
	if len(b) < PrimaryHeaderLen {
		return PrimaryHeader{}, ErrShortHeader
	}
	w0 := binary.BigEndian.Uint16(b[0:2])
	w1 := binary.BigEndian.Uint16(b[2:4])
	return PrimaryHeader{
		Version:         uint8(w0 >> 13),
		Type:            PacketType((w0 >> 12) & 1),
		SecondaryHeader: (w0>>11)&1 == 1,
		APID:            w0 & MaxAPID,
		SeqFlags:        uint8(w1 >> 14),
		SeqCount:        w1 & MaxSeqCount,
		DataLength:      binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// ParseTC validates that b holds exactly one complete telecommand packet.
func ParseTC(b []byte) (PrimaryHeader, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return h, err
	}
	if h.Version != 0 {
		return h, ErrUnsupportedVers
	}
	if h.Type != Telecommand {
		return h, ErrNotTelecommand
	}
	switch n := h.PacketLen(); {
	case n > MaxTCLen:
		return h, fmt.Errorf("%w: %d octets, limit %d", ErrTooLong, n, MaxTCLen)
	case len(b) < n:
		return h, fmt.Errorf("%w: have %d of %d octets", ErrTruncated, len(b), n)
	case len(b) > n:
		return h, fmt.Errorf("%w: %d extra octets", ErrTrailingData, len(b)-n)
	}
	return h, nil
}

// AppendTo encodes h onto b.
func (h PrimaryHeader) AppendTo(b []byte) []byte {
	w0 := uint16(h.Version&0x7)<<13 | uint16(h.Type&1)<<12 | h.APID&MaxAPID
	if h.SecondaryHeader {
		w0 |= 1 << 11
	}
	w1 := uint16(h.SeqFlags&0x3)<<14 | h.SeqCount&MaxSeqCount
	b = binary.BigEndian.AppendUint16(b, w0)
	b = binary.BigEndian.AppendUint16(b, w1)
	return binary.BigEndian.AppendUint16(b, h.DataLength)
}

// NewTC builds an unsegmented telecommand packet around data.
// An empty data field is padded to the one-octet minimum.
func NewTC(apid, seqCount uint16, data []byte) []byte {
	if len(data) == 0 {
		data = []byte{0}
	}
	h := PrimaryHeader{
		Type:            Telecommand,
		SecondaryHeader: true,
		APID:            apid,
		SeqFlags:        SeqUnsegmented,
		SeqCount:        seqCount,
		DataLength:      uint16(len(data) - 1),
	}
	out := h.AppendTo(make([]byte, 0, PrimaryHeaderLen+len(data)))
	return append(out, data...)
}
