package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/TheusHen/phe/phe/elgamal"
)

var (
	ErrSealOpen      = errors.New("keystore: cannot open sealed key (wrong passphrase or corrupted file)")
	ErrSealMalformed = errors.New("keystore: malformed sealed key")
	ErrEmptyPassword = errors.New("keystore: empty passphrase")
)

const (
	sealVersion = 1
	saltSize    = 16
	// header: magic (4) || version (1) || time (4) || memory (4) || threads (1) || salt (16)
	sealHeaderSize = 4 + 1 + 4 + 4 + 1 + saltSize
	sealInfo       = "phe-keystore-seal-v1"
)

var sealMagic = [4]byte{'P', 'H', 'E', 'K'}

// SealOptions are the Argon2id cost parameters. They are recorded in the
// sealed blob, so opening never needs them.
type SealOptions struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultSealOptions follows the RFC 9106 second recommended setting.
var DefaultSealOptions = SealOptions{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// Upper bounds on the cost parameters, checked before any key derivation.
const (
	MaxSealTime      = 16
	MaxSealMemoryKiB = 1 << 20 // 1 GiB
)

func (o SealOptions) check() error {
	if o.Time == 0 || o.Threads == 0 || o.MemoryKiB == 0 {
		return fmt.Errorf("%w: zero cost parameter", ErrSealMalformed)
	}
	if o.Time > MaxSealTime || o.MemoryKiB > MaxSealMemoryKiB {
		return fmt.Errorf("%w: cost parameters above limit (time %d, memory %d KiB)", ErrSealMalformed, o.Time, o.MemoryKiB)
	}
	return nil
}

// deriveSealKey stretches the passphrase with Argon2id and binds the result to
// its purpose with HKDF-SHA256.
func deriveSealKey(passphrase, salt []byte, opts SealOptions) ([]byte, error) {
	master := argon2.IDKey(passphrase, salt, opts.Time, opts.MemoryKiB, opts.Threads, 32)
	hk := hkdf.New(sha256.New, master, salt, []byte(sealInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealPrivateKey encrypts the private key under passphrase with
// ChaCha20-Poly1305. The public key fingerprint is the additional data, so a
// sealed blob only opens against the key pair it was made from.
//
// Format: header || nonce (12) || ciphertext || tag (16)
func SealPrivateKey(sk *elgamal.PrivateKey, passphrase []byte, opts *SealOptions) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassword
	}
	o := DefaultSealOptions
	if opts != nil {
		o = *opts
	}
	if err := o.check(); err != nil {
		return nil, err
	}

	header := make([]byte, sealHeaderSize)
	copy(header[:4], sealMagic[:])
	header[4] = sealVersion
	binary.BigEndian.PutUint32(header[5:9], o.Time)
	binary.BigEndian.PutUint32(header[9:13], o.MemoryKiB)
	header[13] = o.Threads
	salt := header[14:sealHeaderSize]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	key, err := deriveSealKey(passphrase, salt, o)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	plain := secretPlaintext(sk)
	defer wipe(plain)

	fp := sk.Fingerprint()
	out := make([]byte, 0, len(header)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, append(header, fp[:]...)), nil
}

// OpenPrivateKey reverses SealPrivateKey. expected is the fingerprint of the
// public key the blob must belong to.
func OpenPrivateKey(blob, passphrase []byte, expected elgamal.Fingerprint) (*elgamal.PrivateKey, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassword
	}
	nonceSize := chacha20poly1305.NonceSize
	if len(blob) < sealHeaderSize+nonceSize+chacha20poly1305.Overhead ||
		[4]byte(blob[:4]) != sealMagic || blob[4] != sealVersion {
		return nil, ErrSealMalformed
	}
	header := blob[:sealHeaderSize]
	opts := SealOptions{
		Time:      binary.BigEndian.Uint32(header[5:9]),
		MemoryKiB: binary.BigEndian.Uint32(header[9:13]),
		Threads:   header[13],
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	key, err := deriveSealKey(passphrase, header[14:], opts)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[sealHeaderSize : sealHeaderSize+nonceSize]
	ad := append(append([]byte(nil), header...), expected[:]...)
	plain, err := aead.Open(nil, nonce, blob[sealHeaderSize+nonceSize:], ad)
	if err != nil {
		return nil, ErrSealOpen
	}
	defer wipe(plain)

	sk, err := parseSecretPlaintext(plain)
	if err != nil {
		return nil, err
	}
	if sk.Fingerprint() != expected {
		return nil, ErrSealOpen
	}
	return sk, nil
}

// secretPlaintext is p || g || x, each 4-byte length prefixed.
func secretPlaintext(sk *elgamal.PrivateKey) []byte {
	var out []byte
	for _, v := range []*big.Int{sk.P, sk.G, sk.Exponent()} {
		mag := v.Bytes()
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(mag)))
		out = append(out, l[:]...)
		out = append(out, mag...)
	}
	return out
}

func parseSecretPlaintext(b []byte) (*elgamal.PrivateKey, error) {
	vals := make([]*big.Int, 3)
	for i := range vals {
		if len(b) < 4 {
			return nil, ErrSealMalformed
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		if n > len(b)-4 {
			return nil, ErrSealMalformed
		}
		vals[i] = new(big.Int).SetBytes(b[4 : 4+n])
		b = b[4+n:]
	}
	if len(b) != 0 {
		return nil, ErrSealMalformed
	}
	sk, err := elgamal.NewPrivateKey(elgamal.GroupParameters{P: vals[0], G: vals[1]}, vals[2])
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return sk, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
