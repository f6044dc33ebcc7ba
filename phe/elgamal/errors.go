package elgamal

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrOutOfRangeMessage = errors.New("elgamal: message out of range")
	ErrInvalidGroup      = errors.New("elgamal: invalid group parameters")
	ErrInvalidCiphertext = errors.New("elgamal: invalid ciphertext")
	ErrInvalidPrivateKey = errors.New("elgamal: invalid private key")
	ErrNoCiphertexts     = errors.New("elgamal: no ciphertexts to combine")
	ErrInvalidExponent   = errors.New("elgamal: exponent must be positive")
)

// OutOfRangeError reports a message outside [1, Max].
// It matches ErrOutOfRangeMessage with errors.Is.
type OutOfRangeError struct {
	Value *big.Int
	Max   *big.Int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("elgamal: message %s out of range [1, %s]", e.Value, e.Max)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRangeMessage }
