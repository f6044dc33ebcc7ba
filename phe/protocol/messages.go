package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheusHen/phe/phe/elgamal"
)

var ErrUnexpectedMessage = errors.New("protocol unexpected message type")

// Error codes carried by ErrorMessage.
const (
	CodeBadRequest   = "bad_request"
	CodeUnknownKey   = "unknown_key"
	CodeCartNotFound = "cart_not_found"
	CodeInternal     = "internal"
)

// HexCiphertext is the JSON form of an ElGamal ciphertext.
type HexCiphertext struct {
	C1 string `json:"c1"`
	C2 string `json:"c2"`
}

func FromCiphertext(ct *elgamal.Ciphertext) HexCiphertext {
	return HexCiphertext{C1: EncodeInt(ct.C1), C2: EncodeInt(ct.C2)}
}

func (h HexCiphertext) Ciphertext() (*elgamal.Ciphertext, error) {
	c1, err := DecodeInt(h.C1)
	if err != nil {
		return nil, fmt.Errorf("c1: %w", err)
	}
	c2, err := DecodeInt(h.C2)
	if err != nil {
		return nil, fmt.Errorf("c2: %w", err)
	}
	return &elgamal.Ciphertext{C1: c1, C2: c2}, nil
}

type CartItem struct {
	Price uint64 `json:"price"`
	HexCiphertext
}

// CartMessage is an encrypted cart. Prices travel in the clear; quantities
// only as ciphertexts under the key named by Fingerprint.
type CartMessage struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Items       []CartItem `json:"items"`
}

type ProductRequest struct {
	CartID string `json:"cart_id"`
}

// ProductResult carries E(prod m_i) for the items of a cart.
type ProductResult struct {
	CartID     string        `json:"cart_id"`
	Count      int           `json:"count"`
	Ciphertext HexCiphertext `json:"ciphertext"`
}

// PowerRequest asks for E(m^k) given E(m) under the session's key. The
// exponent is public and hex encoded.
type PowerRequest struct {
	Ciphertext HexCiphertext `json:"ciphertext"`
	Exponent   string        `json:"exponent"`
}

type PowerResult struct {
	Ciphertext HexCiphertext `json:"ciphertext"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteError is an ERROR frame surfaced as a Go error.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// EncodeMessage wraps a JSON message into a frame of type t.
func EncodeMessage(t MessageType, v interface{}) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: payload}, nil
}

// DecodeMessage decodes f into v if it has type want. An ERROR frame is
// returned as *RemoteError.
func DecodeMessage(f Frame, want MessageType, v interface{}) error {
	if f.Type == MessageTypeError && want != MessageTypeError {
		var em ErrorMessage
		if err := json.Unmarshal(f.Payload, &em); err != nil {
			return err
		}
		return &RemoteError{Code: em.Code, Message: em.Message}
	}
	if f.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, f.Type, want)
	}
	return json.Unmarshal(f.Payload, v)
}
