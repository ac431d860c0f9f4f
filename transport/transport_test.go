package transport

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		valid    bool
		sentinel error
	}{
		{"serial ok", Config{Kind: KindSerial, Path: "/dev/ttyS0", Baud: 4800}, true, nil},
		{"serial bad baud", Config{Kind: KindSerial, Path: "/dev/ttyS0", Baud: 4801}, false, errors.ErrUnsupportedBaud},
		{"serial no path", Config{Kind: KindSerial, Baud: 9600}, false, errors.ErrMissingConfig},
		{"serial bad parity", Config{Kind: KindSerial, Path: "/dev/ttyS0", Baud: 9600, Parity: "M"}, false, nil},
		{"tcp ok", Config{Kind: KindTCP, Address: "10.0.0.2:4001"}, true, nil},
		{"tcp no address", Config{Kind: KindTCP}, false, errors.ErrMissingConfig},
		{"udp ok", Config{Kind: KindUDP, Port: 7000}, true, nil},
		{"udp bad port", Config{Kind: KindUDP}, false, nil},
		{"unknown kind", Config{Kind: "can"}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.True(t, stderrors.Is(err, tt.sentinel))
			}
		})
	}
}

func TestOpen_UnsupportedBaudIsFatal(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: KindSerial, Path: "/dev/null", Baud: 300})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedBaud))
	assert.True(t, errors.IsFatal(err))
}

func TestOpen_MissingSerialDevice(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: KindSerial, Path: "/dev/does-not-exist-semdevices", Baud: 9600})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransportUnavailable))
	assert.True(t, errors.IsFatal(err))
}

func TestBaudSupported(t *testing.T) {
	for _, b := range SupportedBaudRates {
		assert.True(t, BaudSupported(b))
	}
	assert.False(t, BaudSupported(0))
	assert.False(t, BaudSupported(230400))
}

func TestTCP_ReadWriteAndTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tr, err := Open(context.Background(), Config{Kind: KindTCP, Address: ln.Addr().String()})
	require.NoError(t, err)
	defer tr.Close()

	peer := <-accepted
	defer peer.Close()

	buf := make([]byte, 16)
	_, err = tr.Read(buf, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.True(t, errors.IsTransient(err))

	_, err = peer.Write([]byte("$GPGGA"))
	require.NoError(t, err)
	n, err := ReadFull(tr, buf[:6], time.Second)
	require.NoError(t, err)
	assert.Equal(t, "$GPGGA", string(buf[:n]))

	require.NoError(t, WriteAll(tr, []byte("ping")))
	got := make([]byte, 4)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = peer.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestTCP_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Open(context.Background(), Config{Kind: KindTCP, Address: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransportUnavailable))
}

func TestUDP_UnicastLoopback(t *testing.T) {
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	spare, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := spare.LocalAddr().(*net.UDPAddr).Port
	spare.Close()

	tr, err := Open(context.Background(), Config{Kind: KindUDP, Port: port, Address: peer.LocalAddr().String()})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, WriteAll(tr, []byte{0x02, 0x10, 0x03}))
	got := make([]byte, 8)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	n, from, err := peer.ReadFromUDP(got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x10, 0x03}, got[:n])

	_, err = peer.WriteToUDP([]byte("scan"), from)
	require.NoError(t, err)
	n, err = tr.Read(got, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "scan", string(got[:n]))

	_, err = tr.Read(got, 10*time.Millisecond)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
}

func TestUDP_RejectsNonMulticastGroup(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: KindUDP, Port: 7001, Group: "10.0.0.1"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadFull_ShortAndEmpty(t *testing.T) {
	buf := make([]byte, 8)

	_, err := ReadFull(&testutil.Silent{}, buf, 10*time.Millisecond)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))

	n, err := ReadFull(testutil.NewReplay([]byte{1, 2, 3}, 1), buf, 30*time.Millisecond)
	assert.Equal(t, 3, n)
	assert.True(t, stderrors.Is(err, errors.ErrShortRead))

	n, err = ReadFull(testutil.NewReplay([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3), buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestReadFull_PropagatesIOError(t *testing.T) {
	_, err := ReadFull(&testutil.Failing{}, make([]byte, 4), time.Second)
	assert.ErrorIs(t, err, testutil.ErrInjected)
}

func TestDrain(t *testing.T) {
	r := testutil.NewReplay([]byte("stale bytes"), 4)
	assert.Equal(t, 11, Drain(r, time.Millisecond, 64))

	flood := testutil.NewReplay(make([]byte, 1000), 100)
	assert.Equal(t, 300, Drain(flood, time.Millisecond, 300))
	assert.Equal(t, 700, Drain(flood, time.Millisecond, 1000))
	assert.Equal(t, 0, Drain(&testutil.Failing{}, time.Millisecond, 64))
}

type shortWriter struct{ calls int }

func (s *shortWriter) Read([]byte, time.Duration) (int, error) { return 0, nil }
func (s *shortWriter) Close() error                           { return nil }
func (s *shortWriter) Write(p []byte) (int, error) {
	s.calls++
	return 1, nil
}

func TestWriteAll_PartialWrites(t *testing.T) {
	w := &shortWriter{}
	require.NoError(t, WriteAll(w, []byte{1, 2, 3}))
	assert.Equal(t, 3, w.calls)

	w = &shortWriter{}
	err := WriteAll(w, make([]byte, maxWriteAttempts+1))
	assert.True(t, stderrors.Is(err, errors.ErrShortWrite))
}
