package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cperrors "github.com/vinayprograms/controlplane/errors"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Standard error codes.
const (
	ParseError     = cperrors.RPCParseError
	InvalidRequest = cperrors.RPCInvalidRequest
	MethodNotFound = cperrors.RPCMethodNotFound
	InvalidParams  = cperrors.RPCInvalidParams
	InternalError  = cperrors.RPCInternalError
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 request without an id. No response is sent.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with params marshalled to JSON.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification with params marshalled to JSON.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success response.
func NewResult(id interface{}, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id interface{}, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// Decode unmarshals the result into v. A response carrying an error object
// returns it as a structured error.
func (r *Response) Decode(v interface{}) error {
	if r.Error != nil {
		return r.Error.Structured()
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return cperrors.InvalidInput("decoding result", cperrors.WithCause(err))
	}
	return nil
}

// Structured converts the error object into a structured error, keeping the
// server's structured error when one travelled in Data.
func (e *Error) Structured() *cperrors.Error {
	if data, err := json.Marshal(e.Data); err == nil && e.Data != nil {
		var remote cperrors.Error
		if json.Unmarshal(data, &remote) == nil && remote.Code() != "" {
			return &remote
		}
	}
	return cperrors.New(cperrors.CodeFromRPC(e.Code), e.Message)
}

// ToRPCError maps any handler error onto a JSON-RPC error object.
func ToRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if coded := cperrors.AsCodedError(err); coded != nil {
		return &Error{Code: coded.Code().RPCCode(), Message: err.Error(), Data: coded}
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}
}

// Handler handles JSON-RPC requests. A nil result is sent as JSON null.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	return f(ctx, method, params)
}

// Dispatch runs req through h and builds its response.
func Dispatch(ctx context.Context, h Handler, req *Request) *Response {
	result, err := h.Handle(ctx, req.Method, req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ToRPCError(err))
	}
	resp, err := NewResult(req.ID, result)
	if err != nil {
		return NewErrorResponse(req.ID, &Error{Code: InternalError, Message: "Internal error", Data: err.Error()})
	}
	return resp
}

// Methods routes requests by method name.
type Methods map[string]Handler

// Handle implements Handler.
func (m Methods) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	h, ok := m[method]
	if !ok {
		return nil, &Error{Code: MethodNotFound, Message: "Method not found", Data: method}
	}
	return h.Handle(ctx, method, params)
}

type peerKey struct{}

// WithPeer records the caller's network address in ctx.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

// PeerFromContext returns the address stored by WithPeer, or "".
func PeerFromContext(ctx context.Context) string {
	peer, _ := ctx.Value(peerKey{}).(string)
	return peer
}
