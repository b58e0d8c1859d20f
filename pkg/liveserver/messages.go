package liveserver

// Message is a frame pushed to WebSocket clients. Market is empty for frames that
// go to every client regardless of subscription.
type Message struct {
	Type   string      `json:"type"`
	Market string      `json:"market,omitempty"`
	Data   interface{} `json:"data"`
}

// MessageType constants
const (
	TypeL2         = "l2"
	TypeL3         = "l3"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Request is a frame sent by a client
type Request struct {
	Op      string   `json:"op"`
	Markets []string `json:"markets"`
}

// Client request ops
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// NewMessage creates a Message
func NewMessage(msgType, market string, data interface{}) Message {
	return Message{
		Type:   msgType,
		Market: market,
		Data:   data,
	}
}

// NewL2Message wraps an L2 snapshot for one market
func NewL2Message(market string, book interface{}) Message {
	return NewMessage(TypeL2, market, book)
}
