package turboprint

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks setup-time mistakes: bad level names, malformed templates, invalid policies.
	ErrConfiguration = errors.New("configuration error")
	// ErrResource marks sink resource failures: file open/rotate, socket, journal.
	ErrResource = errors.New("resource error")
	// ErrDelivery marks remote delivery failures after retries.
	ErrDelivery = errors.New("delivery error")
	// ErrClosed is returned by handlers used after shutdown.
	ErrClosed = errors.New("handler closed")
)

// Kind classifies an Error.
type Kind uint8

const (
	KindConfiguration Kind = iota + 1
	KindResource
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindResource:
		return ErrResource
	case KindDelivery:
		return ErrDelivery
	default:
		return nil
	}
}

// Error carries the kind and the operation that failed.
// errors.Is(err, ErrResource) matches an Error of KindResource.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error: " + e.Op
	}
	return e.Kind.String() + " error: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError wraps err with kind and op. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigError builds a configuration error with a formatted message.
func ConfigError(op, format string, args ...any) error {
	return configErr(op, format, args...)
}

// ResourceError wraps err as a resource error.
func ResourceError(op string, err error) error { return NewError(KindResource, op, err) }

// DeliveryError wraps err as a delivery error.
func DeliveryError(op string, err error) error { return NewError(KindDelivery, op, err) }

func configErr(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}
