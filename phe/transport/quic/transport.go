// Package quic is the QUIC transport carrying protocol frames between cart
// clients and relays.
package quic

import (
	"context"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

const defaultIdleTimeout = 30 * time.Second

func quicConfig() *q.Config {
	return &q.Config{MaxIdleTimeout: defaultIdleTimeout, KeepAlivePeriod: defaultIdleTimeout / 3}
}

type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string) (q.Connection, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, addr, tlsConf, quicConfig())
}
