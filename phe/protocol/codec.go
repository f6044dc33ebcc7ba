package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single protocol frame payload, after decompression.
	MaxFramePayload = 1 << 20 // 1 MiB

	// compressThreshold is the smallest payload worth trying LZ4 on.
	compressThreshold = 512

	flagCompressed byte = 1 << 0

	headerSize = 6
)

var (
	ErrFrameTooLarge = errors.New("protocol frame payload too large")
	ErrInvalidType   = errors.New("protocol invalid message type")
	ErrInvalidFlags  = errors.New("protocol invalid frame flags")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: type
//	1 byte: flags (bit 0: payload is LZ4 compressed)
//	4 bytes: payload length on the wire (big endian)
//	N bytes: payload
//
// Callers always see the uncompressed payload.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame writes f in a single Write call, compressing the payload when
// that makes it smaller.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	payload := f.Payload
	var flags byte
	if len(payload) >= compressThreshold {
		if compressed, err := Compress(payload); err == nil && len(compressed) < len(payload) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(f.Type)
	buf[1] = flags
	binary.BigEndian.PutUint32(buf[2:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame from r. It never reads past the frame, so
// consecutive frames on one stream are safe.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	mt := MessageType(hdr[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	flags := hdr[1]
	if flags&^flagCompressed != 0 {
		return Frame{}, ErrInvalidFlags
	}
	payloadLen := binary.BigEndian.Uint32(hdr[2:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	if flags&flagCompressed != 0 {
		var err error
		payload, err = Decompress(payload, MaxFramePayload)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: mt, Payload: payload}, nil
}
