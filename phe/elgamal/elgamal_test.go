package elgamal

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func toyKeys(t testing.TB) (*PublicKey, *PrivateKey) {
	t.Helper()
	pk, sk, err := GenerateKey(nil, ToyGroup())
	require.NoError(t, err)
	return pk, sk
}

func randomMessage(t testing.TB, pk *PublicKey) *big.Int {
	t.Helper()
	m, err := rand.Int(rand.Reader, pk.MaxMessage())
	require.NoError(t, err)
	return m.Add(m, one)
}

func TestKeyRelation(t *testing.T) {
	pk, sk := toyKeys(t)
	x := sk.Exponent()
	require.True(t, x.Sign() > 0)
	require.True(t, x.Cmp(pk.MaxMessage()) <= 0)
	require.Equal(t, 0, new(big.Int).Exp(pk.G, x, pk.P).Cmp(pk.H))
	require.True(t, sk.Public().Equal(pk))
}

func TestGenerateKeyIndependent(t *testing.T) {
	pk1, _, err := GenerateKey(nil, RFC3526Group2048())
	require.NoError(t, err)
	pk2, _, err := GenerateKey(nil, RFC3526Group2048())
	require.NoError(t, err)
	require.False(t, pk1.Equal(pk2))
	require.NotEqual(t, pk1.Fingerprint(), pk2.Fingerprint())
}

func TestGenerateKeyUsesInjectedRandomness(t *testing.T) {
	seed := bytes.Repeat([]byte{0x5a, 0x01, 0xc3}, 64)
	pk1, sk1, err := GenerateKey(bytes.NewReader(seed), ToyGroup())
	require.NoError(t, err)
	pk2, sk2, err := GenerateKey(bytes.NewReader(seed), ToyGroup())
	require.NoError(t, err)
	require.True(t, pk1.Equal(pk2))
	require.Equal(t, 0, sk1.Exponent().Cmp(sk2.Exponent()))
}

// In the toy group 2 has order 3959. rand.Int over [0, 7916] reads two bytes
// and masks the top one to five bits, so {0x0f, 0x76} draws 3958 (exponent
// 3959) and {0x00, 0x04} draws 4 (exponent 5).
var orderThenFive = []byte{0x0f, 0x76, 0x00, 0x04}

func TestEncryptRedrawsDegenerateExponent(t *testing.T) {
	pk, sk := toyKeys(t)
	m := big.NewInt(1234)
	ct, err := pk.Encrypt(bytes.NewReader(orderThenFive), m)
	require.NoError(t, err)
	require.Equal(t, int64(32), ct.C1.Int64())
	require.NotEqual(t, 0, ct.C2.Cmp(m))
	require.Equal(t, 0, sk.Decrypt(ct).Cmp(m))
}

func TestGenerateKeyRedrawsDegenerateExponent(t *testing.T) {
	pk, sk, err := GenerateKey(bytes.NewReader(orderThenFive), ToyGroup())
	require.NoError(t, err)
	require.Equal(t, int64(5), sk.Exponent().Int64())
	require.Equal(t, int64(32), pk.H.Int64())
}

func TestEncryptRejectsTrivialPublicKey(t *testing.T) {
	pk := &PublicKey{GroupParameters: ToyGroup(), H: big.NewInt(1)}
	_, err := pk.Encrypt(nil, big.NewInt(5))
	require.ErrorIs(t, err, ErrInvalidGroup)
}

func TestRandomSourceFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	_, _, err := GenerateKey(iotest.ErrReader(boom), ToyGroup())
	require.ErrorIs(t, err, boom)

	pk, _ := toyKeys(t)
	_, err = pk.Encrypt(iotest.ErrReader(boom), big.NewInt(5))
	require.ErrorIs(t, err, boom)
}

func TestGenerateKeyUnusableGroup(t *testing.T) {
	_, _, err := GenerateKey(nil, GroupParameters{})
	require.ErrorIs(t, err, ErrInvalidGroup)
	_, _, err = GenerateKey(nil, GroupParameters{P: big.NewInt(2), G: big.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidGroup)
	_, _, err = GenerateKey(nil, GroupParameters{P: big.NewInt(7919), G: big.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidGroup)
}

func TestSimpleRoundTrip(t *testing.T) {
	pk, sk := toyKeys(t)
	ct, err := pk.Encrypt(nil, big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, int64(5), sk.Decrypt(ct).Int64())
}

func TestRandomRoundTrips(t *testing.T) {
	for _, params := range []GroupParameters{ToyGroup(), RFC3526Group2048()} {
		pk, sk, err := GenerateKey(nil, params)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			m := randomMessage(t, pk)
			ct, err := pk.Encrypt(nil, m)
			require.NoError(t, err)
			require.Equal(t, 0, sk.Decrypt(ct).Cmp(m), "bits=%d m=%s", params.BitLen(), m)
		}
	}
}

func TestBoundaryMessages(t *testing.T) {
	pk, sk := toyKeys(t)

	for _, m := range []*big.Int{big.NewInt(1), pk.MaxMessage()} {
		ct, err := pk.Encrypt(nil, m)
		require.NoError(t, err)
		require.Equal(t, 0, sk.Decrypt(ct).Cmp(m))
	}

	pMinus1 := new(big.Int).Sub(pk.P, one)
	for _, m := range []*big.Int{big.NewInt(0), pMinus1, pk.P, big.NewInt(-3), nil} {
		_, err := pk.Encrypt(nil, m)
		require.ErrorIs(t, err, ErrOutOfRangeMessage)

		var rangeErr *OutOfRangeError
		require.True(t, errors.As(err, &rangeErr))
		require.Equal(t, int64(7917), rangeErr.Max.Int64())
	}

	_, err := pk.Encrypt(nil, pMinus1)
	require.EqualError(t, err, "elgamal: message 7918 out of range [1, 7917]")
}

func TestEncryptionIsProbabilistic(t *testing.T) {
	pk, _, err := GenerateKey(nil, RFC3526Group2048())
	require.NoError(t, err)

	m := big.NewInt(42)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		ct, err := pk.Encrypt(nil, m)
		require.NoError(t, err)
		key := ct.String()
		require.False(t, seen[key], "ciphertext repeated on call %d", i)
		seen[key] = true
	}

	// The toy group has only a few thousand ephemeral values, so allow
	// occasional collisions but never a constant output.
	toy, _ := toyKeys(t)
	distinct := map[string]bool{}
	for i := 0; i < 20; i++ {
		ct, err := toy.Encrypt(nil, m)
		require.NoError(t, err)
		distinct[ct.String()] = true
	}
	require.Greater(t, len(distinct), 10)
}

func TestHomomorphicMultiplication(t *testing.T) {
	pk, sk := toyKeys(t)

	c1, err := pk.Encrypt(nil, big.NewInt(10))
	require.NoError(t, err)
	c2, err := pk.Encrypt(nil, big.NewInt(20))
	require.NoError(t, err)

	prod := pk.Combine(c1, c2)
	require.Equal(t, int64(200), sk.Decrypt(prod).Int64())
}

func TestHomomorphismRandom(t *testing.T) {
	pk, sk := toyKeys(t)
	for i := 0; i < 50; i++ {
		m1, m2 := randomMessage(t, pk), randomMessage(t, pk)
		c1, err := pk.Encrypt(nil, m1)
		require.NoError(t, err)
		c2, err := pk.Encrypt(nil, m2)
		require.NoError(t, err)

		want := new(big.Int).Mul(m1, m2)
		want.Mod(want, pk.P)
		require.Equal(t, 0, sk.Decrypt(pk.Combine(c1, c2)).Cmp(want))
	}
}

func TestCombineCommutative(t *testing.T) {
	pk, _ := toyKeys(t)
	c1, err := pk.Encrypt(nil, big.NewInt(10))
	require.NoError(t, err)
	c2, err := pk.Encrypt(nil, big.NewInt(20))
	require.NoError(t, err)
	require.True(t, pk.Combine(c1, c2).Equal(pk.Combine(c2, c1)))
}

func TestHomomorphismConsistency(t *testing.T) {
	pk, sk := toyKeys(t)
	c1, err := pk.Encrypt(nil, big.NewInt(10))
	require.NoError(t, err)
	c2, err := pk.Encrypt(nil, big.NewInt(20))
	require.NoError(t, err)

	prodOfPlain := new(big.Int).Mul(sk.Decrypt(c1), sk.Decrypt(c2))
	prodOfPlain.Mod(prodOfPlain, pk.P)
	require.Equal(t, 0, sk.Decrypt(pk.Combine(c1, c2)).Cmp(prodOfPlain))
}

func TestCombineAll(t *testing.T) {
	pk, sk := toyKeys(t)

	_, err := pk.CombineAll()
	require.ErrorIs(t, err, ErrNoCiphertexts)

	msgs := []int64{3, 7, 11, 13}
	var cts []*Ciphertext
	for _, m := range msgs {
		ct, err := pk.Encrypt(nil, big.NewInt(m))
		require.NoError(t, err)
		cts = append(cts, ct)
	}

	forward, err := pk.CombineAll(cts...)
	require.NoError(t, err)
	backward, err := pk.CombineAll(cts[3], cts[2], cts[1], cts[0])
	require.NoError(t, err)
	require.True(t, forward.Equal(backward))
	require.Equal(t, int64(3*7*11*13), sk.Decrypt(forward).Int64())

	// Folding must not alias the first input.
	require.False(t, forward.Equal(cts[0]))

	_, err = pk.CombineAll(cts[0], nil)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestPow(t *testing.T) {
	pk, sk := toyKeys(t)
	ct, err := pk.Encrypt(nil, big.NewInt(12))
	require.NoError(t, err)

	cubed, err := pk.Pow(ct, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(12*12*12), sk.Decrypt(cubed).Int64())

	_, err = pk.Pow(ct, big.NewInt(0))
	require.Error(t, err)
}

func TestDecryptWrongKey(t *testing.T) {
	pk, sk := toyKeys(t)
	_, other := toyKeys(t)

	ct, err := pk.Encrypt(nil, big.NewInt(77))
	require.NoError(t, err)
	got := other.Decrypt(ct)
	require.True(t, got.Sign() >= 0 && got.Cmp(pk.P) < 0)
	require.Equal(t, int64(77), sk.Decrypt(ct).Int64())
}

func TestDecryptChecked(t *testing.T) {
	pk, sk := toyKeys(t)

	_, err := sk.DecryptChecked(nil)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = sk.DecryptChecked(&Ciphertext{C1: big.NewInt(0), C2: big.NewInt(5)})
	require.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = sk.DecryptChecked(&Ciphertext{C1: big.NewInt(5), C2: new(big.Int).Set(pk.P)})
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	ct, err := pk.Encrypt(nil, big.NewInt(9))
	require.NoError(t, err)
	m, err := sk.DecryptChecked(ct)
	require.NoError(t, err)
	require.Equal(t, int64(9), m.Int64())
}

func TestNewPrivateKey(t *testing.T) {
	pk, sk := toyKeys(t)
	rebuilt, err := NewPrivateKey(ToyGroup(), sk.Exponent())
	require.NoError(t, err)
	require.True(t, rebuilt.Public().Equal(pk))

	_, err = NewPrivateKey(ToyGroup(), big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
	_, err = NewPrivateKey(ToyGroup(), big.NewInt(7918))
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestPrivateKeyNeverPrintsExponent(t *testing.T) {
	_, sk := toyKeys(t)
	want := "elgamal.PrivateKey{" + sk.Fingerprint().Short() + "}"
	for _, verb := range []string{"%v", "%+v", "%#v", "%s"} {
		require.Equal(t, want, fmt.Sprintf(verb, sk), verb)
	}

	raw, err := json.Marshal(sk)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.ElementsMatch(t, []string{"P", "G", "H"}, keys(fields))
}

func TestConcurrentUse(t *testing.T) {
	pk, sk := toyKeys(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(m int64) {
			defer wg.Done()
			ct, err := pk.Encrypt(nil, big.NewInt(m))
			if err != nil {
				errs <- err
				return
			}
			if got := sk.Decrypt(ct).Int64(); got != m {
				errs <- fmt.Errorf("decrypted %d, want %d", got, m)
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func BenchmarkEncrypt2048(b *testing.B) {
	pk, _, _ := GenerateKey(nil, RFC3526Group2048())
	m := big.NewInt(123456789)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pk.Encrypt(nil, m)
	}
}

func BenchmarkDecrypt2048(b *testing.B) {
	pk, sk, _ := GenerateKey(nil, RFC3526Group2048())
	ct, _ := pk.Encrypt(nil, big.NewInt(123456789))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sk.Decrypt(ct)
	}
}

func BenchmarkCombine2048(b *testing.B) {
	pk, _, _ := GenerateKey(nil, RFC3526Group2048())
	c1, _ := pk.Encrypt(nil, big.NewInt(3))
	c2, _ := pk.Encrypt(nil, big.NewInt(5))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pk.Combine(c1, c2)
	}
}
