package erasure

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost    = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig  = errors.New("erasure: invalid data/parity configuration")
	ErrShardMismatch  = errors.New("erasure: shards belong to different encodings")
	ErrMalformedShard = errors.New("erasure: malformed shard")
)

const (
	shardVersion = 1
	// HeaderSize: magic (4) || version (1) || index (1) || data (1) || parity (1) || size (4)
	HeaderSize = 12
)

var shardMagic = [4]byte{'P', 'H', 'E', 'S'}

// Header describes a shard's position in its encoding.
type Header struct {
	Index        int
	DataShards   int
	ParityShards int
	Size         int // original blob size, before padding
}

// Codec provides Reed-Solomon encoding/decoding of whole blobs.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a codec that tolerates the loss of parityShards shards.
// The total must fit in a byte.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 255 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }
func (c *Codec) TotalShards() int  { return c.dataShards + c.parityShards }

// EncodeBlob splits blob into TotalShards() shards, each prefixed with a Header.
func (c *Codec) EncodeBlob(blob []byte) ([][]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrMalformedShard)
	}
	shards, err := c.enc.Split(blob)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}

	out := make([][]byte, len(shards))
	for i, s := range shards {
		h := Header{Index: i, DataShards: c.dataShards, ParityShards: c.parityShards, Size: len(blob)}
		buf := make([]byte, HeaderSize+len(s))
		h.put(buf)
		copy(buf[HeaderSize:], s)
		out[i] = buf
	}
	return out, nil
}

// DecodeBlob rebuilds the blob from shards produced by EncodeBlob. Shards may be
// given in any order; lost shards are simply left out or passed as nil.
func DecodeBlob(shards [][]byte) ([]byte, error) {
	var ref *Header
	var payloads [][]byte
	for _, raw := range shards {
		if raw == nil {
			continue
		}
		h, err := ParseHeader(raw)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			ref = &h
			payloads = make([][]byte, h.DataShards+h.ParityShards)
		} else if h.DataShards != ref.DataShards || h.ParityShards != ref.ParityShards || h.Size != ref.Size {
			return nil, ErrShardMismatch
		}
		if h.Index >= len(payloads) {
			return nil, ErrMalformedShard
		}
		payloads[h.Index] = raw[HeaderSize:]
	}
	if ref == nil {
		return nil, ErrTooManyLost
	}

	c, err := NewCodec(ref.DataShards, ref.ParityShards)
	if err != nil {
		return nil, err
	}
	if err := c.enc.ReconstructData(payloads); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, ErrTooManyLost
		}
		if errors.Is(err, reedsolomon.ErrShardSize) {
			return nil, ErrShardMismatch
		}
		return nil, err
	}
	return c.join(payloads, ref.Size), nil
}

func (c *Codec) join(shards [][]byte, size int) []byte {
	data := make([]byte, 0, size)
	for i := 0; i < c.dataShards && len(data) < size; i++ {
		remaining := size - len(data)
		if remaining >= len(shards[i]) {
			data = append(data, shards[i]...)
		} else {
			data = append(data, shards[i][:remaining]...)
		}
	}
	return data
}

// ParseHeader reads the header at the start of a shard.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize || [4]byte(raw[:4]) != shardMagic || raw[4] != shardVersion {
		return Header{}, ErrMalformedShard
	}
	h := Header{
		Index:        int(raw[5]),
		DataShards:   int(raw[6]),
		ParityShards: int(raw[7]),
		Size:         int(binary.BigEndian.Uint32(raw[8:12])),
	}
	if h.DataShards == 0 || h.ParityShards == 0 || h.Index >= h.DataShards+h.ParityShards {
		return Header{}, ErrMalformedShard
	}
	// The blob cannot be longer than the data shards that carry it.
	if h.Size <= 0 || h.Size > h.DataShards*(len(raw)-HeaderSize) {
		return Header{}, ErrMalformedShard
	}
	return h, nil
}

func (h Header) put(buf []byte) {
	copy(buf[:4], shardMagic[:])
	buf[4] = shardVersion
	buf[5] = byte(h.Index)
	buf[6] = byte(h.DataShards)
	buf[7] = byte(h.ParityShards)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Size))
}
