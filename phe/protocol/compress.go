package protocol

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("protocol: compression failed")
	ErrDecompressionFailed = errors.New("protocol: decompression failed")
)

// Hex-encoded ciphertexts compress well; LZ4 keeps the cost negligible next
// to the modular exponentiations that produced them.
var compressorPool = sync.Pool{
	New: func() interface{} {
		w := lz4.NewWriter(nil)
		_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))
		return w
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// Compress compresses data using LZ4 frames.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, ErrCompressionFailed
	}
	if err := w.Close(); err != nil {
		return nil, ErrCompressionFailed
	}
	return buf.Bytes(), nil
}

// Decompress inflates LZ4 data, refusing output larger than limit.
func Decompress(data []byte, limit int) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	if n > int64(limit) {
		return nil, ErrFrameTooLarge
	}
	return buf.Bytes(), nil
}
