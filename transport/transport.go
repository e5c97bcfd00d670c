// Package transport carries JSON-RPC 2.0 between the control plane and its
// agents: unary calls over HTTP POST and long-lived streams over WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrSendTimeout = errors.New("send timeout")
)

// Transport provides bidirectional JSON-RPC message passing.
type Transport interface {
	// Recv returns the channel of incoming messages. It is closed when the
	// transport stops reading.
	Recv() <-chan *InboundMessage

	// Send queues a message. Returns ErrClosed once Close has been called.
	Send(msg *OutboundMessage) error

	// Run pumps messages until ctx is done, Close is called, or the peer
	// goes away.
	Run(ctx context.Context) error

	// Close flushes queued sends and closes the connection.
	Close() error
}

// InboundMessage is an incoming JSON-RPC message. Exactly one of Request,
// Notification and Response is set.
type InboundMessage struct {
	Request      *Request
	Notification *Notification
	Response     *Response

	Raw json.RawMessage
}

// OutboundMessage is an outgoing JSON-RPC message.
type OutboundMessage struct {
	Request      *Request
	Response     *Response
	Notification *Notification
}

// ParseInbound classifies raw JSON as request, notification or response.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	if raw.JSONRPC != Version {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}

	msg := &InboundMessage{Raw: data}
	hasID := len(raw.ID) > 0 && string(raw.ID) != "null"

	var target interface{}
	switch {
	case raw.Method == "" && hasID:
		msg.Response = &Response{}
		target = msg.Response
	case raw.Method == "":
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "method is required"}
	case hasID:
		msg.Request = &Request{}
		target = msg.Request
	default:
		msg.Notification = &Notification{}
		target = msg.Notification
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	return msg, nil
}

// MarshalOutbound serializes an OutboundMessage to JSON.
func MarshalOutbound(msg *OutboundMessage) ([]byte, error) {
	switch {
	case msg.Response != nil:
		return json.Marshal(msg.Response)
	case msg.Request != nil:
		return json.Marshal(msg.Request)
	case msg.Notification != nil:
		return json.Marshal(msg.Notification)
	}
	return nil, errors.New("empty outbound message")
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel. Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the send queue. Default: 100
	SendBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
	}
}
