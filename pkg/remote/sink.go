package remote

import (
	"context"
	"errors"

	"turboprint/pkg/turboprint"
)

// Message is one unit of remote delivery.
type Message struct {
	// Text is the formatted record.
	Text   string
	Record turboprint.Record
}

// Sink performs the network delivery. Send is only ever called from the
// handler's worker goroutine, one message at a time.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (bad credentials, malformed request).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
