package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorrupt is returned when a frame's checksum does not match the
// recomputed value. The frame is dropped; the sender's retransmission
// timeout recovers the data.
var ErrCorrupt = errors.New("packet checksum mismatch")

// ErrBadMagic is returned when a frame does not start with MagicNumber.
// Unlike ErrCorrupt this is not retriable: the byte stream is desynchronized
// and the connection must be dropped.
var ErrBadMagic = errors.New("bad magic number")

// Encode serializes a Packet into a byte slice.
// The CRC-32 checksum covers everything except the checksum field itself
// (magic, sequence, type, length, payload), so any single-bit flip anywhere
// in the frame is detected.
func Encode(pkt *Packet) []byte {
	size := HeaderSize + len(pkt.Payload)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], MagicNumber)
	binary.BigEndian.PutUint32(buf[4:8], pkt.SeqNum)
	buf[8] = pkt.Type
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(pkt.Payload)))
	copy(buf[HeaderSize:], pkt.Payload)

	sum := crc32.NewIEEE()
	sum.Write(buf[0:13])
	sum.Write(pkt.Payload)
	binary.BigEndian.PutUint32(buf[13:17], sum.Sum32())

	return buf
}

// Decode deserializes a complete frame into a Packet.
// Returns ErrBadMagic for foreign traffic and ErrCorrupt when the checksum
// does not verify.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	if binary.BigEndian.Uint32(data[0:4]) != MagicNumber {
		return nil, ErrBadMagic
	}

	length := binary.BigEndian.Uint32(data[9:13])
	if length > MaxPayloadSize {
		return nil, ErrCorrupt
	}
	if len(data) != HeaderSize+int(length) {
		return nil, fmt.Errorf("frame length mismatch: have %d payload bytes, header says %d", len(data)-HeaderSize, length)
	}

	sum := crc32.NewIEEE()
	sum.Write(data[0:13])
	sum.Write(data[HeaderSize:])
	if sum.Sum32() != binary.BigEndian.Uint32(data[13:17]) {
		return nil, ErrCorrupt
	}

	pkt := &Packet{
		SeqNum: binary.BigEndian.Uint32(data[4:8]),
		Type:   data[8],
	}
	if length > 0 {
		pkt.Payload = make([]byte, length)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// ReadFrame reads exactly one frame from an ordered byte stream and decodes it.
// Header and payload are read with io.ReadFull, so a short read mid-frame
// surfaces as an I/O error rather than a garbled packet.
//
// A non-nil error is either an I/O error from r, ErrBadMagic (fatal, the
// stream cannot be resynchronized), or ErrCorrupt (the caller should drop the
// frame and keep reading).
func ReadFrame(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(header[0:4]) != MagicNumber {
		return nil, ErrBadMagic
	}

	length := binary.BigEndian.Uint32(header[9:13])
	if length > MaxPayloadSize {
		// Cannot trust the length field, so the stream position is lost.
		return nil, ErrBadMagic
	}

	frame := make([]byte, HeaderSize+int(length))
	copy(frame, header)
	if length > 0 {
		if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return Decode(frame)
}
