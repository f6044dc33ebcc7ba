package protocol

type MessageType uint8

const (
	MessageTypeKeyAnnounce    MessageType = 1
	MessageTypeCart           MessageType = 2
	MessageTypeCartForward    MessageType = 3
	MessageTypeProductRequest MessageType = 4
	MessageTypeProductResult  MessageType = 5
	MessageTypeError          MessageType = 6
	MessageTypeClose          MessageType = 7
	MessageTypePowerRequest   MessageType = 8
	MessageTypePowerResult    MessageType = 9
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeKeyAnnounce:
		return "KEY_ANNOUNCE"
	case MessageTypeCart:
		return "CART"
	case MessageTypeCartForward:
		return "CART_FORWARD"
	case MessageTypeProductRequest:
		return "PRODUCT_REQUEST"
	case MessageTypeProductResult:
		return "PRODUCT_RESULT"
	case MessageTypeError:
		return "ERROR"
	case MessageTypeClose:
		return "CLOSE"
	case MessageTypePowerRequest:
		return "POWER_REQUEST"
	case MessageTypePowerResult:
		return "POWER_RESULT"
	default:
		return "UNKNOWN"
	}
}
