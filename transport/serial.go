package transport

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/c360/semdevices/errors"
)

// pollInterval bounds each underlying select() so a per-call timeout longer
// than the port timeout is served by looping.
const pollInterval = 50 * time.Millisecond

type serialTransport struct {
	port serial.Port
	path string

	mu     sync.Mutex
	closed bool
}

func openSerial(cfg Config) (*serialTransport, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Path,
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  pollInterval,
	})
	if err != nil {
		return nil, unavailable(err, "openSerial", "open "+cfg.Path)
	}
	return &serialTransport{port: port, path: cfg.Path}, nil
}

func (s *serialTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *serialTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if s.isClosed() {
		return 0, errors.WrapFatal(errors.ErrTransportClosed, "serial", "Read", "read "+s.path)
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := s.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !stderrors.Is(err, serial.ErrTimeout) {
			return 0, errors.WrapTransient(err, "serial", "Read", "read "+s.path)
		}
		if !time.Now().Before(deadline) || s.isClosed() {
			return 0, timeoutErr("serial.Read")
		}
	}
}

func (s *serialTransport) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, errors.WrapFatal(errors.ErrTransportClosed, "serial", "Write", "write "+s.path)
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, errors.WrapTransient(err, "serial", "Write", "write "+s.path)
	}
	return n, nil
}

func (s *serialTransport) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.port.Close()
}
