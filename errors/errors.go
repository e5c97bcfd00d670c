package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// CodedError is implemented by every structured error in this module.
type CodedError interface {
	error

	Code() ErrorCode
	Category() ErrorCategory
	Retryable() bool
	Metadata() map[string]string
	Unwrap() error
}

// Error is the concrete CodedError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use the category default
	timestamp time.Time
	nodeName  string
}

var (
	_ CodedError       = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Code() ErrorCode         { return e.code }
func (e *Error) Category() ErrorCategory { return e.category }
func (e *Error) Unwrap() error           { return e.cause }
func (e *Error) Timestamp() time.Time    { return e.timestamp }

// Message returns the message without the cause chain.
func (e *Error) Message() string { return e.message }

// NodeName returns the node the error concerns, if set.
func (e *Error) NodeName() string { return e.nodeName }

// Retryable reports whether the failed operation may succeed on retry.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	NodeName  string            `json:"node_name,omitempty"`
}

// MarshalJSON implements json.Marshaler. The result is carried in the data
// member of JSON-RPC error objects.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		NodeName:  e.nodeName,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.nodeName = j.NodeName
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable overrides the category's retry default.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithNodeName records which node the error concerns.
func WithNodeName(name string) Option {
	return func(e *Error) { e.nodeName = name }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error with the code's default category.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error carrying the code's default description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Unavailable creates an error for an unreachable control plane.
func Unavailable(message string, opts ...Option) *Error {
	return New(ErrCodeUnavailable, message, opts...)
}

// Rejected creates a registration-rejected error for node.
func Rejected(node, reason string, opts ...Option) *Error {
	opts = append([]Option{WithNodeName(node), WithMetadata("reason", reason)}, opts...)
	return New(ErrCodeRejected, fmt.Sprintf("node %s rejected: %s", node, reason), opts...)
}

// UnknownNode creates an error for a node name absent from the registry.
func UnknownNode(node string, opts ...Option) *Error {
	opts = append([]Option{WithNodeName(node)}, opts...)
	return New(ErrCodeUnknownNode, fmt.Sprintf("node %s is not registered", node), opts...)
}

// StreamClosed creates an error for use of a finished heartbeat stream.
func StreamClosed(opts ...Option) *Error {
	return FromCode(ErrCodeStreamClosed, opts...)
}

// Config creates a configuration error for the named key.
func Config(key, message string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("key", key)}, opts...)
	return New(ErrCodeConfig, fmt.Sprintf("%s: %s", key, message), opts...)
}
