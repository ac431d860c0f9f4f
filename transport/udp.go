package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/c360/semdevices/errors"
)

// udpTransport is a datagram socket. With a Group it joins that multicast
// group and writes go to group:port; otherwise it binds the port and
// writes go to Address.
type udpTransport struct {
	conn *net.UDPConn
	dest *net.UDPAddr
	once sync.Once
	err  error
}

func listenUDP(cfg Config) (*udpTransport, error) {
	if cfg.Group != "" {
		group := &net.UDPAddr{IP: net.ParseIP(cfg.Group), Port: cfg.Port}
		if group.IP == nil || !group.IP.IsMulticast() {
			return nil, errors.WrapInvalid(fmt.Errorf("group %q is not a multicast address", cfg.Group),
				"transport", "listenUDP", "parse group")
		}

		var ifi *net.Interface
		if cfg.Interface != "" {
			var err error
			ifi, err = net.InterfaceByName(cfg.Interface)
			if err != nil {
				return nil, unavailable(err, "listenUDP", "lookup interface "+cfg.Interface)
			}
		}

		conn, err := net.ListenMulticastUDP("udp4", ifi, group)
		if err != nil {
			return nil, unavailable(err, "listenUDP", "join "+group.String())
		}
		return &udpTransport{conn: conn, dest: group}, nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, unavailable(err, "listenUDP", fmt.Sprintf("bind port %d", cfg.Port))
	}

	t := &udpTransport{conn: conn}
	if cfg.Address != "" {
		dest, err := net.ResolveUDPAddr("udp4", cfg.Address)
		if err != nil {
			_ = conn.Close()
			return nil, unavailable(err, "listenUDP", "resolve "+cfg.Address)
		}
		t.dest = dest
	}
	return t, nil
}

// LocalAddr returns the bound socket address.
func (u *udpTransport) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *udpTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, errors.WrapFatal(errors.ErrTransportClosed, "udp", "Read", "set deadline")
	}
	n, _, err := u.conn.ReadFromUDP(p)
	if n > 0 {
		return n, nil
	}
	return 0, classifyNetErr(err, "udp.Read")
}

func (u *udpTransport) Write(p []byte) (int, error) {
	if u.dest == nil {
		return 0, errors.WrapInvalid(errors.ErrMissingConfig, "udp", "Write", "no destination configured")
	}
	n, err := u.conn.WriteToUDP(p, u.dest)
	if err != nil {
		return n, classifyNetErr(err, "udp.Write")
	}
	return n, nil
}

// Close leaves the multicast group, if any, by closing the socket.
func (u *udpTransport) Close() error {
	u.once.Do(func() { u.err = u.conn.Close() })
	return u.err
}
