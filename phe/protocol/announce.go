package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/TheusHen/phe/phe/elgamal"
)

var (
	ErrFingerprintMismatch = errors.New("announcement fingerprint does not match public key")
	ErrAnnounceMissingKey  = errors.New("announcement missing public key")
	ErrBadHex              = errors.New("protocol: malformed hex integer")
)

// KeyAnnouncement carries an ElGamal public key together with its
// fingerprint. Only public material ever crosses the wire.
type KeyAnnouncement struct {
	P           string `json:"p"`
	G           string `json:"g"`
	H           string `json:"h"`
	Fingerprint string `json:"fingerprint"`
	Role        string `json:"role,omitempty"`
}

func NewKeyAnnouncement(pub *elgamal.PublicKey, role string) KeyAnnouncement {
	return KeyAnnouncement{
		P:           EncodeInt(pub.P),
		G:           EncodeInt(pub.G),
		H:           EncodeInt(pub.H),
		Fingerprint: pub.Fingerprint().String(),
		Role:        role,
	}
}

// Verify checks the announced group, then recomputes the fingerprint over
// the announced values. It returns the verified key.
func (a KeyAnnouncement) Verify() (*elgamal.PublicKey, error) {
	if a.P == "" || a.G == "" || a.H == "" {
		return nil, ErrAnnounceMissingKey
	}
	p, err := DecodeInt(a.P)
	if err != nil {
		return nil, fmt.Errorf("p: %w", err)
	}
	g, err := DecodeInt(a.G)
	if err != nil {
		return nil, fmt.Errorf("g: %w", err)
	}
	h, err := DecodeInt(a.H)
	if err != nil {
		return nil, fmt.Errorf("h: %w", err)
	}
	params, err := elgamal.NewGroupParameters(p, g)
	if err != nil {
		return nil, err
	}
	if h.Cmp(big.NewInt(1)) < 0 || h.Cmp(params.P) >= 0 {
		return nil, fmt.Errorf("h out of range: %w", elgamal.ErrInvalidGroup)
	}
	pub := &elgamal.PublicKey{GroupParameters: params, H: h}

	want, err := elgamal.ParseFingerprintHex(a.Fingerprint)
	if err != nil {
		return nil, err
	}
	if pub.Fingerprint() != want {
		return nil, ErrFingerprintMismatch
	}
	return pub, nil
}

// EncodeInt renders a non-negative integer as lowercase hex without prefix.
func EncodeInt(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.Text(16)
}

// DecodeInt parses hex produced by EncodeInt. Negative values are rejected.
func DecodeInt(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, ErrBadHex
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, ErrBadHex
	}
	return v, nil
}
