package driver

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/transport"
)

const (
	exchangeBufSize = 512
	drainQuiet      = time.Millisecond
	drainLimit      = 4 * exchangeBufSize
)

// Exchange writes req and waits up to timeout for the first valid frame that
// match accepts. Stale decoder state and bytes already waiting on the
// transport are discarded before sending. Invalid
// frames and valid frames that match rejects are counted and logged.
func (e *Env) Exchange(ctx context.Context, dec codec.Decoder, req []byte, timeout time.Duration,
	match func(codec.Frame) bool) (codec.Frame, error) {
	dec.Reset()
	transport.Drain(e.Transport, drainQuiet, drainLimit)
	if err := transport.WriteAll(e.Transport, req); err != nil {
		return codec.Frame{}, err
	}
	if e.scratch == nil {
		e.scratch = make([]byte, exchangeBufSize)
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return codec.Frame{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return codec.Frame{}, errors.WrapTransient(errors.ErrTimeout, e.Name, "Exchange", "await reply")
		}

		n, err := e.Transport.Read(e.scratch, remaining)
		if err != nil {
			if stderrors.Is(err, errors.ErrTimeout) {
				continue
			}
			return codec.Frame{}, err
		}

		for _, f := range dec.Feed(e.scratch[:n]) {
			if f.Status != codec.Valid {
				e.Reject(f)
				continue
			}
			if match != nil && !match(f) {
				e.Reject(codec.Frame{Raw: f.Raw, Status: codec.Malformed})
				continue
			}
			e.Decoded()
			return f, nil
		}
	}
}
