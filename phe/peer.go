package phe

import (
	"context"
	"errors"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/session"
	"github.com/TheusHen/phe/phe/transport/quic"
)

var ErrNotListening = errors.New("peer is not listening")

// HandshakeError reports a connection that was accepted but failed the
// session handshake. The listener itself is still usable.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string { return "handshake: " + e.Err.Error() }

func (e *HandshakeError) Unwrap() error { return e.Err }

// Peer is a high-level helper that combines transport + session.
// A relay peer listens and accepts; a client peer dials with its public key.
type Peer struct {
	Handshake session.HandshakeOptions
	listener  *quic.Listener
}

func NewPeer(opts session.HandshakeOptions) *Peer {
	return &Peer{Handshake: opts}
}

// AcceptGroup returns handshake options that only admit keys over params.
func AcceptGroup(params elgamal.GroupParameters) session.HandshakeOptions {
	return session.HandshakeOptions{
		Accept: func(pub *elgamal.PublicKey) error {
			if !pub.GroupParameters.Equal(params) {
				return elgamal.ErrInvalidGroup
			}
			return nil
		},
	}
}

func (p *Peer) Listen(addr string) error {
	ln, err := quic.Listen(addr)
	if err != nil {
		return err
	}
	p.listener = ln
	return nil
}

func (p *Peer) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Peer) ListenAddr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.AddrString()
}

func (p *Peer) Accept(ctx context.Context) (*session.Session, error) {
	if p.listener == nil {
		return nil, ErrNotListening
	}
	conn, err := p.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := session.HandshakeServer(ctx, conn, p.Handshake)
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, &HandshakeError{Err: err}
	}
	return sess, nil
}

func (p *Peer) Dial(ctx context.Context, addr string, pub *elgamal.PublicKey) (*session.Session, error) {
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	sess, err := session.HandshakeClient(ctx, conn, pub)
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, err
	}
	return sess, nil
}
