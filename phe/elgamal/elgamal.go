package elgamal

import (
	"fmt"
	"io"
	"math/big"
)

// Ciphertext is the pair (c1, c2) = (g^y, m*h^y) mod p.
// Ciphertexts are never mutated once produced.
type Ciphertext struct {
	C1 *big.Int
	C2 *big.Int
}

// Equal reports whether both components match.
func (ct *Ciphertext) Equal(other *Ciphertext) bool {
	if ct == nil || other == nil || ct.C1 == nil || other.C1 == nil || ct.C2 == nil || other.C2 == nil {
		return false
	}
	return ct.C1.Cmp(other.C1) == 0 && ct.C2.Cmp(other.C2) == 0
}

func (ct *Ciphertext) String() string {
	return fmt.Sprintf("(%s, %s)", ct.C1, ct.C2)
}

// Encrypt encrypts m, which must lie in [1, p-2], under pub using a fresh
// ephemeral exponent drawn from random (crypto/rand.Reader when nil).
func (pub *PublicKey) Encrypt(random io.Reader, m *big.Int) (*Ciphertext, error) {
	if !pub.usable() || pub.H == nil {
		return nil, fmt.Errorf("%w: incomplete public key", ErrInvalidGroup)
	}
	max := pub.MaxMessage()
	if m == nil || m.Sign() <= 0 || m.Cmp(max) > 0 {
		v := new(big.Int)
		if m != nil {
			v.Set(m)
		}
		return nil, &OutOfRangeError{Value: v, Max: max}
	}

	if pub.H.Cmp(one) == 0 {
		return nil, fmt.Errorf("%w: public key h = 1", ErrInvalidGroup)
	}

	// g need not generate Z_p*, so y may be a multiple of its order. Redraw
	// until neither g^y nor h^y is 1; c2 then never equals m.
	for {
		y, err := randomExponent(random, pub.P)
		if err != nil {
			return nil, err
		}
		c1 := new(big.Int).Exp(pub.G, y, pub.P)
		s := new(big.Int).Exp(pub.H, y, pub.P)
		if c1.Cmp(one) == 0 || s.Cmp(one) == 0 {
			continue
		}
		c2 := s.Mul(s, m)
		c2.Mod(c2, pub.P)
		return &Ciphertext{C1: c1, C2: c2}, nil
	}
}

// Decrypt recovers m = c2 * (c1^x)^-1 mod p. The inverse is computed as
// s^(p-2) (Fermat). A ciphertext produced under a different key decrypts to an
// unrelated value in [0, p-1]; this is not detected.
func (priv *PrivateKey) Decrypt(ct *Ciphertext) *big.Int {
	p := priv.P
	s := new(big.Int).Exp(ct.C1, priv.x, p)
	sInv := s.Exp(s, new(big.Int).Sub(p, two), p)
	m := sInv.Mul(sInv, ct.C2)
	return m.Mod(m, p)
}

// DecryptChecked is Decrypt with the ciphertext shape verified first: both
// components must be present and lie in [1, p-1].
func (priv *PrivateKey) DecryptChecked(ct *Ciphertext) (*big.Int, error) {
	if err := priv.PublicKey.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	return priv.Decrypt(ct), nil
}

// CheckCiphertext verifies that ct is a pair of nonzero residues mod p.
func (pub *PublicKey) CheckCiphertext(ct *Ciphertext) error {
	if ct == nil || ct.C1 == nil || ct.C2 == nil {
		return fmt.Errorf("%w: missing component", ErrInvalidCiphertext)
	}
	for _, c := range []*big.Int{ct.C1, ct.C2} {
		if c.Sign() <= 0 || c.Cmp(pub.P) >= 0 {
			return fmt.Errorf("%w: component outside [1, p-1]", ErrInvalidCiphertext)
		}
	}
	return nil
}
