package transport

import (
	stderrors "errors"
	"time"

	"github.com/c360/semdevices/errors"
)

// maxWriteAttempts bounds WriteAll's retries on partial writes.
const maxWriteAttempts = 8

// WriteAll writes p completely, retrying short writes.
func WriteAll(t Transport, p []byte) error {
	for attempt := 0; len(p) > 0; attempt++ {
		if attempt == maxWriteAttempts {
			return errors.WrapTransient(errors.ErrShortWrite, "transport", "WriteAll", "partial write")
		}
		n, err := t.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadFull fills p or fails once timeout has elapsed overall. A timeout with
// no bytes wraps ErrTimeout; with some bytes it wraps ErrShortRead.
func ReadFull(t Transport, p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(p) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		n, err := t.Read(p[got:], remaining)
		got += n
		if err != nil && !stderrors.Is(err, errors.ErrTimeout) {
			return got, err
		}
	}
	if got == len(p) {
		return got, nil
	}
	if got == 0 {
		return 0, timeoutErr("ReadFull")
	}
	return got, errors.WrapTransient(errors.ErrShortRead, "transport", "ReadFull", "read")
}

// Drain discards whatever is already buffered, waiting at most quiet between
// chunks and giving up after limit bytes. It returns the number discarded.
func Drain(t Transport, quiet time.Duration, limit int) int {
	var scratch [256]byte
	total := 0
	for total < limit {
		n, err := t.Read(scratch[:], quiet)
		total += n
		if err != nil || n == 0 {
			break
		}
	}
	return total
}
