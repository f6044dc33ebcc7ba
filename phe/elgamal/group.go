package elgamal

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/go-multierror"
)

// primalityRounds is the number of Miller-Rabin rounds used by Validate.
const primalityRounds = 20

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// rfc3526Prime2048 is the 2048-bit MODP prime of RFC 3526 (group 14).
const rfc3526Prime2048 = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// GroupParameters is a prime modulus P and a generator G of Z_P* (or of a
// large prime-order subgroup of it).
type GroupParameters struct {
	P *big.Int
	G *big.Int
}

// NewGroupParameters copies p and g into a new GroupParameters and validates it.
func NewGroupParameters(p, g *big.Int) (GroupParameters, error) {
	if p == nil || g == nil {
		return GroupParameters{}, fmt.Errorf("%w: missing modulus or generator", ErrInvalidGroup)
	}
	gp := GroupParameters{P: new(big.Int).Set(p), G: new(big.Int).Set(g)}
	if err := gp.Validate(); err != nil {
		return GroupParameters{}, err
	}
	return gp, nil
}

// ToyGroup returns p=7919, g=2. Discrete logs in this group are trivial;
// it exists for tests and demos only.
func ToyGroup() GroupParameters {
	return GroupParameters{P: big.NewInt(7919), G: big.NewInt(2)}
}

// RFC3526Group2048 returns the 2048-bit MODP group of RFC 3526 with g=2.
// P is a safe prime and 2 generates the subgroup of prime order (P-1)/2.
func RFC3526Group2048() GroupParameters {
	p, _ := new(big.Int).SetString(rfc3526Prime2048, 16)
	return GroupParameters{P: p, G: big.NewInt(2)}
}

// Validate checks that P is an odd probable prime and 1 < G < P-1.
// Every violation found is reported.
func (gp GroupParameters) Validate() error {
	if gp.P == nil || gp.G == nil {
		return fmt.Errorf("%w: missing modulus or generator", ErrInvalidGroup)
	}

	var result *multierror.Error
	if gp.P.Cmp(three) < 0 || gp.P.Bit(0) == 0 {
		result = multierror.Append(result, fmt.Errorf("%w: modulus %s must be an odd prime >= 3", ErrInvalidGroup, gp.P))
	} else if !gp.P.ProbablyPrime(primalityRounds) {
		result = multierror.Append(result, fmt.Errorf("%w: modulus is not prime", ErrInvalidGroup))
	}

	pMinus1 := new(big.Int).Sub(gp.P, one)
	if gp.G.Cmp(one) <= 0 || gp.G.Cmp(pMinus1) >= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: generator must satisfy 1 < g < p-1", ErrInvalidGroup))
	}
	return result.ErrorOrNil()
}

// SubgroupOrder returns q = (P-1)/2 and true when P is a safe prime and G
// generates the order-q subgroup. It returns false for groups such as the
// toy fixture where G generates (a subgroup of) the full Z_P* of composite order.
func (gp GroupParameters) SubgroupOrder() (*big.Int, bool) {
	if gp.P == nil || gp.G == nil || gp.P.Cmp(three) < 0 {
		return nil, false
	}
	q := new(big.Int).Rsh(new(big.Int).Sub(gp.P, one), 1)
	if !q.ProbablyPrime(primalityRounds) {
		return nil, false
	}
	if new(big.Int).Exp(gp.G, q, gp.P).Cmp(one) != 0 {
		return nil, false
	}
	return q, true
}

// MaxMessage returns P-2, the largest encryptable message.
func (gp GroupParameters) MaxMessage() *big.Int {
	return new(big.Int).Sub(gp.P, two)
}

// Equal reports whether both groups have the same modulus and generator.
func (gp GroupParameters) Equal(other GroupParameters) bool {
	if gp.P == nil || gp.G == nil || other.P == nil || other.G == nil {
		return false
	}
	return gp.P.Cmp(other.P) == 0 && gp.G.Cmp(other.G) == 0
}

// BitLen returns the size of the modulus in bits.
func (gp GroupParameters) BitLen() int {
	if gp.P == nil {
		return 0
	}
	return gp.P.BitLen()
}

// usable is the cheap precondition every operation needs to avoid panics in
// math/big and endless exponent redraws; full validation is Validate's job.
func (gp GroupParameters) usable() bool {
	return gp.P != nil && gp.G != nil && gp.P.Cmp(three) >= 0 &&
		gp.G.Cmp(one) > 0 && gp.G.Cmp(gp.P) < 0
}
