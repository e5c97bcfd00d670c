package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	// CategoryTransient covers failures a caller may retry: dropped
	// connections, an unreachable control plane, timeouts.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent covers failures retry will not fix: malformed
	// requests, rejected registrations, bad configuration.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal covers bugs and unexpected server state.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Control plane unreachable
	ErrCodeNetworkErr   ErrorCode = "NETWORK_ERR"   // Connection dropped or refused
	ErrCodeStreamClosed ErrorCode = "STREAM_CLOSED" // Heartbeat stream already closed

	// Permanent
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed request or parameters
	ErrCodeRejected     ErrorCode = "REJECTED"      // Registration refused by the server
	ErrCodeUnknownNode  ErrorCode = "UNKNOWN_NODE"  // Node name not in the registry
	ErrCodeMethod       ErrorCode = "METHOD"        // RPC method not served
	ErrCodeConfig       ErrorCode = "CONFIG"        // Invalid configuration
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category an error with this code gets unless
// overridden with WithCategory.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr, ErrCodeStreamClosed:
		return CategoryTransient
	case ErrCodeInvalidInput, ErrCodeRejected, ErrCodeUnknownNode, ErrCodeMethod,
		ErrCodeConfig, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "control plane unavailable",
	ErrCodeNetworkErr:   "network connectivity error",
	ErrCodeStreamClosed: "heartbeat stream closed",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeRejected:     "registration rejected",
	ErrCodeUnknownNode:  "node not registered",
	ErrCodeMethod:       "method not found",
	ErrCodeConfig:       "invalid configuration",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// JSON-RPC 2.0 error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603

	// RPCRejected is the server-defined code for a refused registration.
	RPCRejected = -32000
)

// RPCCode maps an error code onto the JSON-RPC error code sent on the wire.
func (c ErrorCode) RPCCode() int {
	switch c {
	case ErrCodeInvalidInput:
		return RPCInvalidParams
	case ErrCodeMethod:
		return RPCMethodNotFound
	case ErrCodeRejected:
		return RPCRejected
	default:
		return RPCInternalError
	}
}

// CodeFromRPC is the inverse of RPCCode, used by clients decoding a
// JSON-RPC error object.
func CodeFromRPC(code int) ErrorCode {
	switch code {
	case RPCParseError, RPCInvalidRequest, RPCInvalidParams:
		return ErrCodeInvalidInput
	case RPCMethodNotFound:
		return ErrCodeMethod
	case RPCRejected:
		return ErrCodeRejected
	default:
		return ErrCodeInternal
	}
}
