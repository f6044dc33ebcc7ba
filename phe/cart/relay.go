package cart

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/TheusHen/phe/phe"
	"github.com/TheusHen/phe/phe/cartstore"
	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/log"
	"github.com/TheusHen/phe/phe/metrics"
	"github.com/TheusHen/phe/phe/protocol"
	"github.com/TheusHen/phe/phe/registry"
	"github.com/TheusHen/phe/phe/registry/memory"
	"github.com/TheusHen/phe/phe/session"
	"github.com/TheusHen/phe/phe/worker"
)

// Store is the persistence a relay needs; *cartstore.BoltStore implements it.
type Store interface {
	Put(ctx context.Context, cart *protocol.CartMessage) (string, error)
	Get(ctx context.Context, id string) (*protocol.CartMessage, error)
}

// NewPool starts a worker pool whose finished jobs are reported to metrics.
func NewPool(workers, queue int) *worker.Pool {
	p := worker.NewPool(workers, queue)
	p.OnResult = func(r worker.Result) {
		metrics.ObserveJob(r.Op.String(), r.ComputeDuration, r.QueueDuration, r.Error)
	}
	p.Start()
	return p
}

// Relay stores and forwards encrypted carts and computes homomorphic products.
// It only ever holds public keys.
type Relay struct {
	store Store
	pool  *worker.Pool
	keys  registry.Resolver
	log   log.Logger
}

// NewRelay returns a relay keeping its key registry in memory.
func NewRelay(l log.Logger, store Store, pool *worker.Pool) *Relay {
	return NewRelayWithRegistry(l, store, pool, memory.New())
}

func NewRelayWithRegistry(l log.Logger, store Store, pool *worker.Pool, keys registry.Resolver) *Relay {
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Relay{
		store: store,
		pool:  pool,
		keys:  keys,
		log:   l.Named("relay"),
	}
}

// Keys exposes the registry of public keys announced to the relay.
func (r *Relay) Keys() registry.Resolver { return r.keys }

// Register makes pub known to the relay; addr is where it was announced from.
func (r *Relay) Register(pub *elgamal.PublicKey, addr string) error {
	fp := pub.Fingerprint()
	_, err := r.keys.Lookup(fp)
	known := err == nil
	if err := r.keys.Announce(registry.KeyInfo{Key: pub, Addr: addr, LastSeen: time.Now()}); err != nil {
		return err
	}
	if !known {
		r.log.Infow("public key registered", "fingerprint", fp.Short(), "addr", addr)
	}
	return nil
}

func (r *Relay) lookup(fp elgamal.Fingerprint) (*elgamal.PublicKey, error) {
	info, err := r.keys.Lookup(fp)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w %s", ErrUnknownKey, fp.Short())
	}
	if err != nil {
		return nil, err
	}
	return info.Key, nil
}

// ProcessCart checks that every ciphertext is well formed under the cart's
// registered key, stores the cart under a fresh ID and returns it unchanged
// apart from that ID. Any ID supplied by the sender is ignored. The relay
// cannot total a cart: the scheme only multiplies.
func (r *Relay) ProcessCart(ctx context.Context, c *EncryptedCart) (*EncryptedCart, error) {
	pub, err := r.lookup(c.Fingerprint)
	if err != nil {
		return nil, err
	}
	for i, it := range c.Items {
		if err := pub.CheckCiphertext(it.Ciphertext); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	msg := c.Message()
	msg.ID = cartstore.NewID()
	id, err := r.store.Put(ctx, &msg)
	if err != nil {
		return nil, err
	}
	metrics.CartsRelayed.Inc()
	r.log.Infow("cart relayed", "id", id, "fingerprint", c.Fingerprint.Short(), "items", len(c.Items))

	out := *c
	out.ID = id
	out.Items = append([]EncryptedItem(nil), c.Items...)
	return &out, nil
}

// Product returns E(q1*q2*...*qn) for the quantities of a stored cart along
// with the number of items folded.
func (r *Relay) Product(ctx context.Context, cartID string) (*elgamal.Ciphertext, int, error) {
	msg, err := r.store.Get(ctx, cartID)
	if err != nil {
		return nil, 0, err
	}
	c, err := FromMessage(*msg)
	if err != nil {
		return nil, 0, err
	}
	pub, err := r.lookup(c.Fingerprint)
	if err != nil {
		return nil, 0, err
	}
	res, err := r.pool.Submit(ctx, worker.Job{
		ID:          cartID,
		Op:          worker.OpProduct,
		Ciphertexts: c.Ciphertexts(),
		PublicKey:   pub,
	})
	if err != nil {
		return nil, 0, err
	}
	r.log.Debugw("product computed", "id", cartID, "items", len(c.Items), "compute", res.ComputeDuration, "queue", res.QueueDuration)
	return res.Ciphertext, len(c.Items), nil
}

// Power returns E(m^k) for ct = E(m) under the registered key fp.
func (r *Relay) Power(ctx context.Context, fp elgamal.Fingerprint, ct *elgamal.Ciphertext, k *big.Int) (*elgamal.Ciphertext, error) {
	pub, err := r.lookup(fp)
	if err != nil {
		return nil, err
	}
	res, err := r.pool.Submit(ctx, worker.Job{
		ID:          "power-" + fp.Short(),
		Op:          worker.OpPower,
		Ciphertexts: []*elgamal.Ciphertext{ct},
		Exponent:    k,
		PublicKey:   pub,
	})
	if err != nil {
		return nil, err
	}
	return res.Ciphertext, nil
}

// Run accepts sessions on p until ctx is done, serving each in its own
// goroutine.
func (r *Relay) Run(ctx context.Context, p *phe.Peer) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		sess, err := p.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var he *phe.HandshakeError
			if !errors.As(err, &he) {
				return err
			}
			r.log.Warnw("session rejected", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Serve(ctx, sess); err != nil {
				r.log.Debugw("session ended", "err", err)
			}
		}()
	}
}

// Serve answers CART, PRODUCT_REQUEST and POWER_REQUEST frames on sess until the client
// sends CLOSE, the connection drops or ctx is done. Only carts encrypted
// under the session's key are accepted.
func (r *Relay) Serve(ctx context.Context, sess *session.Session) error {
	pub := sess.RemoteKey()
	if err := r.Register(pub, sess.Connection().RemoteAddr().String()); err != nil {
		return err
	}
	l := r.log.With("fingerprint", pub.Fingerprint().Short())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = sess.WaitClose(ctx)
		cancel()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer st.Close()
			f, err := protocol.ReadFrame(st)
			if err != nil {
				l.Debugw("reading request", "err", err)
				return
			}
			reply := r.handle(ctx, pub.Fingerprint(), f)
			if err := protocol.WriteFrame(st, reply); err != nil {
				l.Debugw("writing reply", "err", err)
			}
		}()
	}
}

func (r *Relay) handle(ctx context.Context, owner elgamal.Fingerprint, f protocol.Frame) protocol.Frame {
	switch f.Type {
	case protocol.MessageTypeCart:
		var msg protocol.CartMessage
		if err := protocol.DecodeMessage(f, protocol.MessageTypeCart, &msg); err != nil {
			return errorFrame(err)
		}
		c, err := FromMessage(msg)
		if err != nil {
			return errorFrame(err)
		}
		if c.Fingerprint != owner {
			return errorFrame(ErrForeignCart)
		}
		out, err := r.ProcessCart(ctx, c)
		if err != nil {
			return errorFrame(err)
		}
		reply, err := protocol.EncodeMessage(protocol.MessageTypeCartForward, out.Message())
		if err != nil {
			return errorFrame(err)
		}
		return reply

	case protocol.MessageTypeProductRequest:
		var req protocol.ProductRequest
		if err := protocol.DecodeMessage(f, protocol.MessageTypeProductRequest, &req); err != nil {
			return errorFrame(err)
		}
		msg, err := r.store.Get(ctx, req.CartID)
		if err != nil {
			return errorFrame(err)
		}
		if msg.Fingerprint != owner.String() {
			// Carts of other keys are invisible to this session.
			return errorFrame(cartstore.ErrCartNotFound)
		}
		ct, n, err := r.Product(ctx, req.CartID)
		if err != nil {
			return errorFrame(err)
		}
		reply, err := protocol.EncodeMessage(protocol.MessageTypeProductResult, protocol.ProductResult{
			CartID:     req.CartID,
			Count:      n,
			Ciphertext: protocol.FromCiphertext(ct),
		})
		if err != nil {
			return errorFrame(err)
		}
		return reply

	case protocol.MessageTypePowerRequest:
		var req protocol.PowerRequest
		if err := protocol.DecodeMessage(f, protocol.MessageTypePowerRequest, &req); err != nil {
			return errorFrame(err)
		}
		ct, err := req.Ciphertext.Ciphertext()
		if err != nil {
			return errorFrame(err)
		}
		k, err := protocol.DecodeInt(req.Exponent)
		if err != nil {
			return errorFrame(err)
		}
		out, err := r.Power(ctx, owner, ct, k)
		if err != nil {
			return errorFrame(err)
		}
		reply, err := protocol.EncodeMessage(protocol.MessageTypePowerResult, protocol.PowerResult{
			Ciphertext: protocol.FromCiphertext(out),
		})
		if err != nil {
			return errorFrame(err)
		}
		return reply

	default:
		return errorFrame(fmt.Errorf("%w: %s", protocol.ErrUnexpectedMessage, f.Type))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrForeignCart), errors.Is(err, cartstore.ErrCartOwner):
		return protocol.CodeUnknownKey
	case errors.Is(err, cartstore.ErrCartNotFound), errors.Is(err, cartstore.ErrInvalidID):
		return protocol.CodeCartNotFound
	case errors.Is(err, elgamal.ErrInvalidCiphertext),
		errors.Is(err, elgamal.ErrNoCiphertexts),
		errors.Is(err, elgamal.ErrInvalidExponent),
		errors.Is(err, protocol.ErrBadHex),
		errors.Is(err, protocol.ErrUnexpectedMessage):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}

func errorFrame(err error) protocol.Frame {
	f, encErr := protocol.EncodeMessage(protocol.MessageTypeError, protocol.ErrorMessage{Code: errorCode(err), Message: err.Error()})
	if encErr != nil {
		return protocol.Frame{Type: protocol.MessageTypeError, Payload: []byte(`{"code":"internal"}`)}
	}
	return f
}
