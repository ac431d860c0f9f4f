package testutil

import (
	"bytes"
	stderrors "errors"
	"sync"
	"time"

	"github.com/c360/semdevices/errors"
)

func timeout() error {
	return errors.WrapTransient(errors.ErrTimeout, "testutil", "Read", "read")
}

// Replay serves data in chunks of at most Chunk bytes per Read. Once
// exhausted, reads time out after sleeping for the requested timeout, capped
// at IdleSleep.
type Replay struct {
	mu        sync.Mutex
	data      []byte
	Chunk     int
	IdleSleep time.Duration
	written   bytes.Buffer
	closed    int
}

// NewReplay creates a Replay over data.
func NewReplay(data []byte, chunk int) *Replay {
	if chunk <= 0 {
		chunk = len(data)
	}
	return &Replay{data: append([]byte(nil), data...), Chunk: chunk, IdleSleep: 5 * time.Millisecond}
}

// Append queues more bytes.
func (r *Replay) Append(p []byte) {
	r.mu.Lock()
	r.data = append(r.data, p...)
	r.mu.Unlock()
}

func (r *Replay) Read(p []byte, t time.Duration) (int, error) {
	r.mu.Lock()
	if len(r.data) == 0 {
		r.mu.Unlock()
		idle := t
		if idle > r.IdleSleep {
			idle = r.IdleSleep
		}
		time.Sleep(idle)
		return 0, timeout()
	}
	n := r.Chunk
	if n <= 0 || n > len(r.data) {
		n = len(r.data)
	}
	n = copy(p, r.data[:n])
	r.data = r.data[n:]
	r.mu.Unlock()
	return n, nil
}

func (r *Replay) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written.Write(p)
}

func (r *Replay) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

// Written returns everything written so far.
func (r *Replay) Written() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.written.Bytes()...)
}

// CloseCount reports how many times Close was called.
func (r *Replay) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Responder maps one written request to the bytes the device sends back.
// Returning nil means the device stays silent.
type Responder func(request []byte) []byte

// Scripted is a request/reply device. Every Write is passed to Respond and
// the reply is queued for subsequent reads.
type Scripted struct {
	Replay
	Respond Responder

	requests [][]byte
}

// NewScripted creates a Scripted transport.
func NewScripted(respond Responder) *Scripted {
	s := &Scripted{Respond: respond}
	s.IdleSleep = 2 * time.Millisecond
	return s
}

func (s *Scripted) Write(p []byte) (int, error) {
	req := append([]byte(nil), p...)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.written.Write(p)
	s.mu.Unlock()

	if s.Respond != nil {
		if reply := s.Respond(req); reply != nil {
			s.Append(reply)
		}
	}
	return len(p), nil
}

// Requests returns a copy of every request written.
func (s *Scripted) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	copy(out, s.requests)
	return out
}

// Silent never produces data.
type Silent struct {
	mu     sync.Mutex
	closed int
}

func (s *Silent) Read(_ []byte, t time.Duration) (int, error) {
	if t > 2*time.Millisecond {
		t = 2 * time.Millisecond
	}
	time.Sleep(t)
	return 0, timeout()
}

func (s *Silent) Write(p []byte) (int, error) { return len(p), nil }

func (s *Silent) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// CloseCount reports how many times Close was called.
func (s *Silent) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ErrInjected is returned by Failing.
var ErrInjected = stderrors.New("injected i/o failure")

// Failing fails every read and write with Err, or ErrInjected.
type Failing struct {
	Err error
}

func (f *Failing) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

func (f *Failing) Read([]byte, time.Duration) (int, error) { return 0, f.err() }
func (f *Failing) Write([]byte) (int, error)               { return 0, f.err() }
func (f *Failing) Close() error                            { return nil }
