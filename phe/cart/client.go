package cart

import (
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/log"
	"github.com/TheusHen/phe/phe/metrics"
)

// Client owns the key pair. It is safe for concurrent use.
type Client struct {
	// Rand is the randomness source for keys and encryptions; nil means
	// crypto/rand.
	Rand io.Reader

	mu   sync.RWMutex
	priv *elgamal.PrivateKey
	log  log.Logger
}

func NewClient(l log.Logger) *Client {
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Client{log: l.Named("cart-client")}
}

// GenerateKeyPair replaces any existing key pair with a fresh one over params.
func (c *Client) GenerateKeyPair(params elgamal.GroupParameters) error {
	_, priv, err := elgamal.GenerateKey(c.Rand, params)
	if err != nil {
		return err
	}
	c.SetKeys(priv)
	return nil
}

// SetKeys installs an existing private key, e.g. one loaded from a keystore.
func (c *Client) SetKeys(priv *elgamal.PrivateKey) {
	c.mu.Lock()
	c.priv = priv
	c.mu.Unlock()
	c.log.Infow("key pair installed", "fingerprint", priv.Public().Fingerprint().Short(), "bits", priv.BitLen())
}

func (c *Client) key() (*elgamal.PrivateKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.priv == nil {
		return nil, ErrUninitializedKey
	}
	return c.priv, nil
}

func (c *Client) PublicKey() (*elgamal.PublicKey, error) {
	priv, err := c.key()
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

// EncryptCart encrypts every quantity; prices are carried in the clear.
func (c *Client) EncryptCart(items []Item) (*EncryptedCart, error) {
	priv, err := c.key()
	if err != nil {
		return nil, err
	}
	pub := priv.Public()
	out := &EncryptedCart{Fingerprint: pub.Fingerprint(), Items: make([]EncryptedItem, len(items))}
	for i, it := range items {
		ct, err := pub.Encrypt(c.Rand, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		metrics.Encryptions.Inc()
		out.Items[i] = EncryptedItem{Price: it.Price, Ciphertext: ct}
	}
	c.log.Debugw("cart encrypted", "items", len(items))
	return out, nil
}

// DecryptAndTotal decrypts each quantity and returns sum(price*quantity).
func (c *Client) DecryptAndTotal(cart *EncryptedCart) (*big.Int, error) {
	priv, err := c.key()
	if err != nil {
		return nil, err
	}
	if cart.Fingerprint != priv.Public().Fingerprint() {
		return nil, ErrForeignCart
	}
	total := new(big.Int)
	for i, it := range cart.Items {
		q, err := priv.DecryptChecked(it.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		metrics.Decryptions.Inc()
		line := new(big.Int).SetUint64(it.Price)
		total.Add(total, line.Mul(line, q))
	}
	return total, nil
}

// DecryptProduct decrypts a combined ciphertext returned by a relay.
func (c *Client) DecryptProduct(ct *elgamal.Ciphertext) (*big.Int, error) {
	priv, err := c.key()
	if err != nil {
		return nil, err
	}
	m, err := priv.DecryptChecked(ct)
	if err != nil {
		return nil, err
	}
	metrics.Decryptions.Inc()
	return m, nil
}
