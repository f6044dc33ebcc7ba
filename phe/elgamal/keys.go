package elgamal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Fingerprint identifies a public key.
// It is defined as: Fingerprint = SHA-256(PublicKey.Bytes()).
type Fingerprint [32]byte

func ParseFingerprintHex(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, err
	}
	if len(b) != 32 {
		return Fingerprint{}, errors.New("elgamal: invalid fingerprint length")
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}

func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (fp Fingerprint) Short() string {
	return hex.EncodeToString(fp[:8])
}

// PublicKey is (p, g, h) with h = g^x mod p.
type PublicKey struct {
	GroupParameters
	H *big.Int
}

// PrivateKey is (p, g, x). The exponent is unexported so that it is never
// picked up by reflection-based encoders, and the fmt verbs print only the
// fingerprint.
type PrivateKey struct {
	PublicKey
	x *big.Int
}

// GenerateKey draws x uniformly from [1, p-2], redrawing while g^x = 1, and
// returns the matching key pair.
// A nil random source means crypto/rand.Reader.
func GenerateKey(random io.Reader, params GroupParameters) (*PublicKey, *PrivateKey, error) {
	if !params.usable() {
		return nil, nil, fmt.Errorf("%w: missing or too small modulus", ErrInvalidGroup)
	}
	var x, h *big.Int
	for {
		var err error
		x, err = randomExponent(random, params.P)
		if err != nil {
			return nil, nil, err
		}
		// h = 1 would publish every message as c2.
		h = new(big.Int).Exp(params.G, x, params.P)
		if h.Cmp(one) != 0 {
			break
		}
	}

	pub := PublicKey{
		GroupParameters: GroupParameters{P: new(big.Int).Set(params.P), G: new(big.Int).Set(params.G)},
		H:               h,
	}
	pk := pub
	return &pk, &PrivateKey{PublicKey: pub, x: x}, nil
}

// NewPrivateKey rebuilds a private key from its exponent, recomputing h.
func NewPrivateKey(params GroupParameters, x *big.Int) (*PrivateKey, error) {
	if !params.usable() {
		return nil, fmt.Errorf("%w: missing or too small modulus", ErrInvalidGroup)
	}
	if x == nil || x.Sign() <= 0 || x.Cmp(params.MaxMessage()) > 0 {
		return nil, fmt.Errorf("%w: exponent must be in [1, p-2]", ErrInvalidPrivateKey)
	}
	return &PrivateKey{
		PublicKey: PublicKey{
			GroupParameters: GroupParameters{P: new(big.Int).Set(params.P), G: new(big.Int).Set(params.G)},
			H:               new(big.Int).Exp(params.G, x, params.P),
		},
		x: new(big.Int).Set(x),
	}, nil
}

// Public returns a copy of the public half.
func (priv *PrivateKey) Public() *PublicKey {
	pk := priv.PublicKey
	return &pk
}

// Exponent returns a copy of the secret exponent. Callers must seal it before
// it leaves the process.
func (priv *PrivateKey) Exponent() *big.Int {
	return new(big.Int).Set(priv.x)
}

func (priv *PrivateKey) String() string {
	return "elgamal.PrivateKey{" + priv.Fingerprint().Short() + "}"
}

func (priv *PrivateKey) GoString() string { return priv.String() }

// Bytes is the canonical public key encoding: p, g and h, each as a 4-byte
// big-endian length followed by the big-endian magnitude.
func (pub *PublicKey) Bytes() []byte {
	out := make([]byte, 0, 12+len(pub.P.Bytes())*3)
	out = appendInt(out, pub.P)
	out = appendInt(out, pub.G)
	out = appendInt(out, pub.H)
	return out
}

func (pub *PublicKey) Fingerprint() Fingerprint {
	return Fingerprint(sha256.Sum256(pub.Bytes()))
}

// Equal reports whether both keys share group and h.
func (pub *PublicKey) Equal(other *PublicKey) bool {
	if pub == nil || other == nil || pub.H == nil || other.H == nil {
		return false
	}
	return pub.GroupParameters.Equal(other.GroupParameters) && pub.H.Cmp(other.H) == 0
}

// randomExponent returns a uniform integer in [1, p-2].
func randomExponent(random io.Reader, p *big.Int) (*big.Int, error) {
	if random == nil {
		random = rand.Reader
	}
	// rand.Int yields [0, p-3]; shift by one.
	k, err := rand.Int(random, new(big.Int).Sub(p, two))
	if err != nil {
		return nil, err
	}
	return k.Add(k, one), nil
}
