// Package phe provides multiplicative-homomorphic ElGamal building blocks and
// an encrypted-cart relay built on them.
//
// The engine lives in phe/elgamal. A client encrypts quantities under its own
// public key, a relay that only ever sees public keys and ciphertexts stores
// carts and combines ciphertexts, and the client decrypts the results. Peers
// talk over QUIC with a session handshake that binds each connection to the
// client's announced key fingerprint.
package phe
