package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeClose, Payload: []byte("ok")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Bytes()[1] != 0 {
		t.Fatalf("short payload should not be compressed")
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type mismatch")
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFrameCompressed(t *testing.T) {
	payload := []byte(strings.Repeat(`{"c1":"abcdef0123","c2":"fedcba9876"},`, 200))

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: MessageTypeCart, Payload: payload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Bytes()[1]&flagCompressed == 0 {
		t.Fatalf("expected compressed flag")
	}
	if buf.Len() >= len(payload) {
		t.Fatalf("expected smaller frame, got %d >= %d", buf.Len(), len(payload))
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	big := bytes.Repeat([]byte("x"), 4096)
	for _, f := range []Frame{
		{Type: MessageTypeKeyAnnounce, Payload: []byte("a")},
		{Type: MessageTypeCart, Payload: big},
		{Type: MessageTypeClose},
	} {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range []MessageType{MessageTypeKeyAnnounce, MessageTypeCart, MessageTypeClose} {
		f, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Type != want {
			t.Fatalf("frame %d: type %s, want %s", i, f.Type, want)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFrameRejects(t *testing.T) {
	if err := WriteFrame(io.Discard, Frame{}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if err := WriteFrame(io.Discard, Frame{Type: MessageTypeCart, Payload: make([]byte, MaxFramePayload+1)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	hdr := make([]byte, headerSize)
	hdr[0] = byte(MessageTypeCart)
	binary.BigEndian.PutUint32(hdr[2:], MaxFramePayload+1)
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	hdr[1] = 0x80
	binary.BigEndian.PutUint32(hdr[2:], 0)
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrInvalidFlags) {
		t.Fatalf("expected ErrInvalidFlags, got %v", err)
	}

	truncated := []byte{byte(MessageTypeCart), 0, 0, 0, 0, 10, 'a'}
	if _, err := ReadFrame(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecompressLimit(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 10000)
	c, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(c, 100); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	out, err := Decompress(c, len(data))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("mismatch")
	}
	if _, err := Decompress([]byte("not lz4 at all"), 100); err == nil {
		t.Fatalf("expected error on garbage")
	}
}
