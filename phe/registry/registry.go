// Package registry tracks the public keys a relay has seen.
package registry

import (
	"errors"
	"time"

	"github.com/TheusHen/phe/phe/elgamal"
)

var (
	ErrNotFound = errors.New("registry: key not found")
)

// KeyInfo is what a relay remembers about an announced key. It never holds
// private material.
type KeyInfo struct {
	Fingerprint elgamal.Fingerprint
	Key         *elgamal.PublicKey
	// Addr is the last remote address the key was announced from.
	Addr     string
	LastSeen time.Time
}

// Resolver is a generic key registry.
// Implementations can be backed by memory, a database or a shared directory.
type Resolver interface {
	Announce(info KeyInfo) error
	Lookup(fp elgamal.Fingerprint) (KeyInfo, error)
}
