package elgamal

import (
	"encoding/binary"
	"math/big"
)

// appendInt appends v as a 4-byte big-endian length followed by its
// magnitude.
func appendInt(b []byte, v *big.Int) []byte {
	mag := v.Bytes()
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(mag)))
	b = append(b, l[:]...)
	return append(b, mag...)
}
