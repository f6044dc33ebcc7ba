// Package cart implements the encrypted shopping cart: a client encrypts item
// quantities under its own ElGamal key, a relay stores and forwards the
// ciphertexts and combines them homomorphically, and only the client can
// decrypt totals and products.
package cart

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/protocol"
)

var (
	ErrUninitializedKey = errors.New("cart: key pair not generated")
	ErrForeignCart      = errors.New("cart: cart encrypted under a different key")
	ErrUnknownKey       = errors.New("cart: no public key registered for fingerprint")
)

// Item is a plaintext cart line. Price is public; Quantity is encrypted.
type Item struct {
	Price    uint64
	Quantity *big.Int
}

type EncryptedItem struct {
	Price      uint64
	Ciphertext *elgamal.Ciphertext
}

// EncryptedCart is what leaves the client.
type EncryptedCart struct {
	ID          string
	Fingerprint elgamal.Fingerprint
	Items       []EncryptedItem
}

// Ciphertexts returns the item ciphertexts in order.
func (c *EncryptedCart) Ciphertexts() []*elgamal.Ciphertext {
	out := make([]*elgamal.Ciphertext, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.Ciphertext
	}
	return out
}

// Message converts c to its wire form.
func (c *EncryptedCart) Message() protocol.CartMessage {
	m := protocol.CartMessage{
		ID:          c.ID,
		Fingerprint: c.Fingerprint.String(),
		Items:       make([]protocol.CartItem, len(c.Items)),
	}
	for i, it := range c.Items {
		m.Items[i] = protocol.CartItem{Price: it.Price, HexCiphertext: protocol.FromCiphertext(it.Ciphertext)}
	}
	return m
}

// FromMessage parses the wire form of a cart.
func FromMessage(m protocol.CartMessage) (*EncryptedCart, error) {
	fp, err := elgamal.ParseFingerprintHex(m.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("cart fingerprint: %w", err)
	}
	c := &EncryptedCart{ID: m.ID, Fingerprint: fp, Items: make([]EncryptedItem, len(m.Items))}
	for i, it := range m.Items {
		ct, err := it.Ciphertext()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		c.Items[i] = EncryptedItem{Price: it.Price, Ciphertext: ct}
	}
	return c, nil
}

// PlainTotal is sum(price*quantity) over items, for reference.
func PlainTotal(items []Item) *big.Int {
	total := new(big.Int)
	for _, it := range items {
		line := new(big.Int).SetUint64(it.Price)
		total.Add(total, line.Mul(line, it.Quantity))
	}
	return total
}
