package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Wrap adds context to err while preserving its chain.
// A nil err returns nil. A structured error keeps its code, category and
// node. Context errors become TIMEOUT or CANCELED, network errors become
// NETWORK_ERR, and anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		wrapped := &Error{
			code:      coded.code,
			category:  coded.category,
			message:   message,
			cause:     err,
			metadata:  coded.Metadata(),
			retryable: coded.retryable,
			timestamp: coded.timestamp,
			nodeName:  coded.nodeName,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	opts = append(opts, WithCause(err))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, opts...)
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, opts...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(ErrCodeTimeout, message, opts...)
		}
		return New(ErrCodeNetworkErr, message, opts...)
	}

	return New(ErrCodeInternal, message, opts...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsCodedError extracts the first structured error in the chain, or nil.
func AsCodedError(err error) CodedError {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// Is reports whether the first structured error in the chain has code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code == code
	}
	return false
}

// IsRetryable reports whether err is a structured, retryable error.
func IsRetryable(err error) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Retryable()
	}
	return false
}

// IsTransient reports whether err is in CategoryTransient.
func IsTransient(err error) bool {
	return Category(err) == CategoryTransient
}

// IsPermanent reports whether err is in CategoryPermanent.
func IsPermanent(err error) bool {
	return Category(err) == CategoryPermanent
}

// Code extracts the error code, or "" for unstructured errors.
func Code(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// Category extracts the error category, or "" for unstructured errors.
func Category(err error) ErrorCategory {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.category
	}
	return ""
}

// Cause returns the innermost error of the chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines errors, returning nil if all are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
