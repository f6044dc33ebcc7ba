package cart

import (
	"context"
	"math/big"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/protocol"
	"github.com/TheusHen/phe/phe/session"
)

// RemoteClient is the client half of a relay session.
type RemoteClient struct {
	sess *session.Session
}

func NewRemoteClient(sess *session.Session) *RemoteClient {
	return &RemoteClient{sess: sess}
}

// SubmitCart sends c to the relay and returns the forwarded cart, which
// carries the ID the relay stored it under.
func (rc *RemoteClient) SubmitCart(ctx context.Context, c *EncryptedCart) (*EncryptedCart, error) {
	req, err := protocol.EncodeMessage(protocol.MessageTypeCart, c.Message())
	if err != nil {
		return nil, err
	}
	reply, err := rc.sess.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var msg protocol.CartMessage
	if err := protocol.DecodeMessage(reply, protocol.MessageTypeCartForward, &msg); err != nil {
		return nil, err
	}
	return FromMessage(msg)
}

// RequestProduct asks the relay for E(q1*...*qn) over a stored cart.
func (rc *RemoteClient) RequestProduct(ctx context.Context, cartID string) (*elgamal.Ciphertext, int, error) {
	req, err := protocol.EncodeMessage(protocol.MessageTypeProductRequest, protocol.ProductRequest{CartID: cartID})
	if err != nil {
		return nil, 0, err
	}
	reply, err := rc.sess.RoundTrip(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	var res protocol.ProductResult
	if err := protocol.DecodeMessage(reply, protocol.MessageTypeProductResult, &res); err != nil {
		return nil, 0, err
	}
	ct, err := res.Ciphertext.Ciphertext()
	if err != nil {
		return nil, 0, err
	}
	return ct, res.Count, nil
}

// RequestPower asks the relay for E(m^k) given ct = E(m) under the session's
// key.
func (rc *RemoteClient) RequestPower(ctx context.Context, ct *elgamal.Ciphertext, k *big.Int) (*elgamal.Ciphertext, error) {
	if k == nil {
		return nil, elgamal.ErrInvalidExponent
	}
	req, err := protocol.EncodeMessage(protocol.MessageTypePowerRequest, protocol.PowerRequest{
		Ciphertext: protocol.FromCiphertext(ct),
		Exponent:   protocol.EncodeInt(k),
	})
	if err != nil {
		return nil, err
	}
	reply, err := rc.sess.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var res protocol.PowerResult
	if err := protocol.DecodeMessage(reply, protocol.MessageTypePowerResult, &res); err != nil {
		return nil, err
	}
	return res.Ciphertext.Ciphertext()
}

func (rc *RemoteClient) Close() error { return rc.sess.Close() }
