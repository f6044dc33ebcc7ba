package elgamal

import (
	"fmt"
	"math/big"
)

// Combine computes E(mA*mB) given E(mA) and E(mB).
// c = (c1A*c1B mod p, c2A*c2B mod p)
//
// Both inputs must come from pub; mixing keys yields garbage that is not
// detected here.
func (pub *PublicKey) Combine(a, b *Ciphertext) *Ciphertext {
	c1 := new(big.Int).Mul(a.C1, b.C1)
	c1.Mod(c1, pub.P)
	c2 := new(big.Int).Mul(a.C2, b.C2)
	c2.Mod(c2, pub.P)
	return &Ciphertext{C1: c1, C2: c2}
}

// CombineAll folds Combine over cts. The order of the inputs does not matter.
func (pub *PublicKey) CombineAll(cts ...*Ciphertext) (*Ciphertext, error) {
	if len(cts) == 0 {
		return nil, ErrNoCiphertexts
	}
	for i, ct := range cts {
		if err := pub.CheckCiphertext(ct); err != nil {
			return nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
	}
	acc := &Ciphertext{C1: new(big.Int).Set(cts[0].C1), C2: new(big.Int).Set(cts[0].C2)}
	for _, ct := range cts[1:] {
		acc = pub.Combine(acc, ct)
	}
	return acc, nil
}

// Pow computes E(m^k) given E(m), k >= 1.
// c = (c1^k mod p, c2^k mod p)
func (pub *PublicKey) Pow(ct *Ciphertext, k *big.Int) (*Ciphertext, error) {
	if err := pub.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	if k == nil || k.Sign() <= 0 {
		return nil, ErrInvalidExponent
	}
	return &Ciphertext{
		C1: new(big.Int).Exp(ct.C1, k, pub.P),
		C2: new(big.Int).Exp(ct.C2, k, pub.P),
	}, nil
}
