package transport

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"time"

	"github.com/c360/semdevices/errors"
)

type tcpTransport struct {
	conn net.Conn
	once sync.Once
	err  error
}

func dialTCP(ctx context.Context, cfg Config) (*tcpTransport, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, unavailable(err, "dialTCP", "dial "+cfg.Address)
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, errors.WrapFatal(errors.ErrTransportClosed, "tcp", "Read", "set deadline")
	}
	n, err := t.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, classifyNetErr(err, "tcp.Read")
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, classifyNetErr(err, "tcp.Write")
	}
	return n, nil
}

func (t *tcpTransport) Close() error {
	t.once.Do(func() { t.err = t.conn.Close() })
	return t.err
}

func classifyNetErr(err error, method string) error {
	var ne net.Error
	switch {
	case err == nil:
		return timeoutErr(method)
	case stderrors.As(err, &ne) && ne.Timeout():
		return timeoutErr(method)
	case stderrors.Is(err, net.ErrClosed):
		return errors.WrapFatal(errors.ErrTransportClosed, "transport", method, "io")
	default:
		// EOF or reset: the peer went away.
		return errors.WrapFatal(stderrors.Join(errors.ErrTransportUnavailable, err), "transport", method, "io")
	}
}
