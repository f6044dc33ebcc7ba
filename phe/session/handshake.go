package session

import (
	"context"
	"errors"
	"time"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/protocol"
	q "github.com/quic-go/quic-go"
)

var (
	ErrHandshakeExpectedAnnounce = errors.New("handshake expected KEY_ANNOUNCE")
	ErrHandshakeEcho             = errors.New("handshake relay echoed a different fingerprint")
)

const (
	RoleClient = "client"
	RoleRelay  = "relay"
)

type HandshakeOptions struct {
	// Accept, if set, is consulted by the relay before acknowledging a key.
	Accept func(pub *elgamal.PublicKey) error
}

func withDeadline(ctx context.Context, st q.Stream) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(d)
		return func() { _ = st.SetDeadline(time.Time{}) }
	}
	return func() {}
}

// HandshakeClient announces pub to the relay on a dedicated control stream
// and waits for the relay to echo its fingerprint.
func HandshakeClient(ctx context.Context, conn q.Connection, pub *elgamal.PublicKey) (*Session, error) {
	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer withDeadline(ctx, control)()

	f, err := protocol.EncodeMessage(protocol.MessageTypeKeyAnnounce, protocol.NewKeyAnnouncement(pub, RoleClient))
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(control, f); err != nil {
		return nil, err
	}

	frame, err := protocol.ReadFrame(control)
	if err != nil {
		return nil, err
	}
	var ack protocol.KeyAnnouncement
	if err := protocol.DecodeMessage(frame, protocol.MessageTypeKeyAnnounce, &ack); err != nil {
		var re *protocol.RemoteError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, ErrHandshakeExpectedAnnounce
	}
	echoed, err := ack.Verify()
	if err != nil {
		return nil, err
	}
	if echoed.Fingerprint() != pub.Fingerprint() {
		return nil, ErrHandshakeEcho
	}

	return &Session{
		conn:      conn,
		control:   control,
		controlID: control.StreamID(),
		key:       pub,
	}, nil
}

// HandshakeServer accepts the control stream opened by the client, verifies
// the announced key and acknowledges it. A rejected key is answered with an
// ERROR frame before the error is returned.
func HandshakeServer(ctx context.Context, conn q.Connection, opts HandshakeOptions) (*Session, error) {
	control, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	defer withDeadline(ctx, control)()

	frame, err := protocol.ReadFrame(control)
	if err != nil {
		return nil, err
	}
	var ann protocol.KeyAnnouncement
	if err := protocol.DecodeMessage(frame, protocol.MessageTypeKeyAnnounce, &ann); err != nil {
		reject(control, protocol.CodeBadRequest, ErrHandshakeExpectedAnnounce)
		return nil, ErrHandshakeExpectedAnnounce
	}
	pub, err := ann.Verify()
	if err == nil && opts.Accept != nil {
		err = opts.Accept(pub)
	}
	if err != nil {
		reject(control, protocol.CodeUnknownKey, err)
		return nil, err
	}

	f, err := protocol.EncodeMessage(protocol.MessageTypeKeyAnnounce, protocol.NewKeyAnnouncement(pub, RoleRelay))
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(control, f); err != nil {
		return nil, err
	}

	return &Session{
		conn:      conn,
		control:   control,
		controlID: control.StreamID(),
		key:       pub,
	}, nil
}

func reject(st q.Stream, code string, cause error) {
	f, err := protocol.EncodeMessage(protocol.MessageTypeError, protocol.ErrorMessage{Code: code, Message: cause.Error()})
	if err != nil {
		return
	}
	_ = protocol.WriteFrame(st, f)
	_ = st.Close()
}
