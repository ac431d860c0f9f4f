// Package types contains the device addressing, reading and command types
// shared by drivers, the data bus and the outer surfaces.
package types

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/c360/semdevices/errors"
)

// Interface names the kind of data a device produces or accepts.
type Interface string

// Supported interfaces.
const (
	InterfaceLaser      Interface = "laser"
	InterfaceGPS        Interface = "gps"
	InterfaceRFID       Interface = "rfid"
	InterfacePTZ        Interface = "ptz"
	InterfacePosition2D Interface = "position2d"
	InterfaceBlobfinder Interface = "blobfinder"
	InterfacePower      Interface = "power"
)

// Valid reports whether i is a known interface.
func (i Interface) Valid() bool {
	switch i {
	case InterfaceLaser, InterfaceGPS, InterfaceRFID, InterfacePTZ,
		InterfacePosition2D, InterfaceBlobfinder, InterfacePower:
		return true
	}
	return false
}

// Address identifies a device: host, robot (port), interface and index.
// It is comparable and used directly as a map key.
type Address struct {
	Host      uint32
	Robot     int
	Interface Interface
	Index     int
}

// NewAddress builds an address from a dotted IPv4 host.
func NewAddress(host string, robot int, iface Interface, index int) (Address, error) {
	h, err := parseHost(host)
	if err != nil {
		return Address{}, err
	}
	a := Address{Host: h, Robot: robot, Interface: iface, Index: index}
	return a, a.Validate()
}

// MustAddress is NewAddress that panics on error, for tests and static tables.
func MustAddress(host string, robot int, iface Interface, index int) Address {
	a, err := NewAddress(host, robot, iface, index)
	if err != nil {
		panic(err)
	}
	return a
}

func parseHost(s string) (uint32, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0, errors.WrapInvalid(fmt.Errorf("host %q is not an IPv4 address", s),
			"Address", "parseHost", "parse host")
	}
	return binary.BigEndian.Uint32(ip), nil
}

// HostString returns the host as a dotted IPv4 string.
func (a Address) HostString() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.Host)
	return net.IP(b[:]).String()
}

// String renders host:robot:interface:index.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d:%s:%d", a.HostString(), a.Robot, a.Interface, a.Index)
}

// Subject renders the address as dot-separated broker tokens, with the host
// in hex so it contains no dots.
func (a Address) Subject() string {
	return fmt.Sprintf("%08x.%d.%s.%d", a.Host, a.Robot, a.Interface, a.Index)
}

// Validate checks interface and numeric ranges.
func (a Address) Validate() error {
	if !a.Interface.Valid() {
		return errors.WrapInvalid(fmt.Errorf("unknown interface %q", a.Interface),
			"Address", "Validate", "check interface")
	}
	if a.Robot < 0 || a.Robot > 65535 {
		return errors.WrapInvalid(fmt.Errorf("robot %d out of range", a.Robot),
			"Address", "Validate", "check robot")
	}
	if a.Index < 0 {
		return errors.WrapInvalid(fmt.Errorf("index %d is negative", a.Index),
			"Address", "Validate", "check index")
	}
	return nil
}

// ParseAddress parses host:robot:interface:index.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Address{}, errors.WrapInvalid(fmt.Errorf("address %q: want host:robot:interface:index", s),
			"Address", "ParseAddress", "split address")
	}
	robot, err := strconv.Atoi(parts[1])
	if err != nil {
		return Address{}, errors.WrapInvalid(err, "Address", "ParseAddress", "parse robot")
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil {
		return Address{}, errors.WrapInvalid(err, "Address", "ParseAddress", "parse index")
	}
	return NewAddress(parts[0], robot, Interface(parts[2]), index)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
