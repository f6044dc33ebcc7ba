package session

import (
	"context"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/protocol"
	q "github.com/quic-go/quic-go"
)

// Session is a QUIC connection bound to one ElGamal public key: the key the
// client announced during the handshake. On both ends RemoteKey returns it.
// The QUIC connection provides transport encryption; the relay only ever
// learns public material.
type Session struct {
	conn      q.Connection
	control   q.Stream
	controlID q.StreamID
	key       *elgamal.PublicKey
}

func (s *Session) Connection() q.Connection { return s.conn }

// RemoteKey returns the verified public key the session is bound to.
func (s *Session) RemoteKey() *elgamal.PublicKey { return s.key }

// OpenStream opens an application data stream.
func (s *Session) OpenStream(ctx context.Context) (q.Stream, error) {
	return s.conn.OpenStreamSync(ctx)
}

// AcceptStream accepts an application data stream, skipping the control stream.
func (s *Session) AcceptStream(ctx context.Context) (q.Stream, error) {
	for {
		st, err := s.conn.AcceptStream(ctx)
		if err != nil {
			return nil, err
		}
		if st.StreamID() == s.controlID {
			_ = st.Close()
			continue
		}
		return st, nil
	}
}

// RoundTrip sends req on a fresh stream and reads a single reply frame.
func (s *Session) RoundTrip(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	st, err := s.OpenStream(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	defer st.CancelRead(0)
	defer withDeadline(ctx, st)()

	if err := protocol.WriteFrame(st, req); err != nil {
		return protocol.Frame{}, err
	}
	// Close only the send direction; the reply still arrives.
	if err := st.Close(); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.ReadFrame(st)
}

// Close sends a CLOSE frame on the control stream and tears the connection down.
func (s *Session) Close() error {
	if s.control != nil {
		_ = protocol.WriteFrame(s.control, protocol.Frame{Type: protocol.MessageTypeClose})
	}
	return s.conn.CloseWithError(0, "bye")
}

// WaitClose blocks until the peer sends CLOSE on the control stream or the
// control stream fails. It returns nil on an orderly CLOSE.
func (s *Session) WaitClose(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		for {
			f, err := protocol.ReadFrame(s.control)
			if err != nil {
				done <- err
				return
			}
			if f.Type == protocol.MessageTypeClose {
				done <- nil
				return
			}
		}
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.control.CancelRead(0)
		return ctx.Err()
	}
}
