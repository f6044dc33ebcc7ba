// Package elgamal implements textbook ElGamal over a prime field with its
// multiplicative homomorphism.
//
// Features:
//   - Key generation against explicit, caller-supplied group parameters
//   - Randomized encryption with a fresh ephemeral exponent per call
//   - Decryption via Fermat inversion of the shared secret
//   - Homomorphic multiplication: Combine(E(a), E(b)) decrypts to a*b mod p
//
// Ciphertexts are malleable on purpose; there is no integrity check. All
// operations are stateless and safe for concurrent use as long as the random
// source is (crypto/rand.Reader is).
package elgamal
