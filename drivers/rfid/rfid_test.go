package rfid

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/codec"
	"github.com/c360/semdevices/codec/rfi341"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/testutil"
	"github.com/c360/semdevices/types"
)

var rfidAddr = types.MustAddress("10.0.0.7", 6665, types.InterfaceRFID, 0)

const testKey = 0xBEEF

// reader simulates an RFI341 unit. Hooks override individual replies.
type reader struct {
	mu       sync.Mutex
	linkCode uint16
	key      uint16
	tags     [][rfi341.UIDLen]byte
	onData   func() *rfi341.Message
	silent   bool
}

func (r *reader) respond(req []byte) []byte {
	frames := rfi341.NewDecoder().Feed(req)
	if len(frames) != 1 || frames[0].Status != codec.Valid {
		return nil
	}
	m, err := rfi341.Decode(frames[0].Payload)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.silent {
		return nil
	}
	switch m.Command {
	case rfi341.CmdRequestLinkCode:
		return rfi341.LinkCodeReply(m.ID, r.linkCode).Encode()
	case rfi341.CmdAuthenticate:
		code, _ := rfi341.AuthCodeOf(m)
		if code == rfi341.AuthCode(r.linkCode, r.key) {
			return rfi341.Message{ID: m.ID, Command: rfi341.CmdConnected}.Encode()
		}
		return rfi341.Message{ID: m.ID, Command: rfi341.CmdDisconnected}.Encode()
	case rfi341.CmdDataRequest:
		if r.onData != nil {
			if reply := r.onData(); reply != nil {
				return reply.Encode()
			}
		}
		return rfi341.TagReply(m.ID, r.tags).Encode()
	}
	return nil
}

func commands(s *testutil.Scripted) []byte {
	var out []byte
	for _, req := range s.Requests() {
		frames := rfi341.NewDecoder().Feed(req)
		if len(frames) == 1 {
			m, err := rfi341.Decode(frames[0].Payload)
			if err == nil {
				out = append(out, m.Command)
			}
		}
	}
	return out
}

type fixture struct {
	drv    *Driver
	env    *driver.Env
	reader *reader
	tr     *testutil.Scripted
	sub    *bus.Subscription
}

func newFixture(t *testing.T, cfg string) *fixture {
	t.Helper()
	if cfg == "" {
		cfg = `{"key": 48879, "period_ms": 1, "reply_timeout_ms": 20, "keep_alive_ms": 0}`
	}
	d, err := New(json.RawMessage(cfg))
	require.NoError(t, err)

	rd := &reader{
		linkCode: 0x1234,
		key:      testKey,
		tags: [][rfi341.UIDLen]byte{
			{0xE0, 0x04, 0x01, 0x00, 0x02, 0x03, 0x10, 0xFF},
			{0xE0, 0x04, 0x01, 0x00, 0x0A, 0x0B, 0x0C, 0x0D},
		},
	}
	tr := testutil.NewScripted(rd.respond)
	b := bus.New(bus.Options{})
	sub, err := b.Subscribe(rfidAddr)
	require.NoError(t, err)

	env := driver.NewTestEnv("rfid0", rfidAddr, tr, b, nil)
	require.NoError(t, d.Setup(env))
	return &fixture{drv: d.(*Driver), env: env, reader: rd, tr: tr, sub: sub}
}

func (f *fixture) cycle(t *testing.T) error {
	t.Helper()
	return f.drv.Cycle(context.Background(), f.env)
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cycle(t))
	require.Equal(t, Authenticate, f.drv.State())
	require.NoError(t, f.cycle(t))
	require.Equal(t, DataAcquisition, f.drv.State())
}

func TestDriver_NegotiatesAndPublishesTags(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	require.NoError(t, f.cycle(t))
	m, ok := f.sub.TryNext()
	require.True(t, ok)
	reading := m.Payload.(*types.RFIDReading)
	assert.Equal(t, []string{"E0040100020310FF", "E00401000A0B0C0D"}, reading.Tags)

	assert.Equal(t, []byte{rfi341.CmdRequestLinkCode, rfi341.CmdAuthenticate, rfi341.CmdDataRequest}, commands(f.tr))
}

func TestDriver_AuthenticateSendsTransformedCode(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	reqs := f.tr.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	frames := rfi341.NewDecoder().Feed(reqs[1])
	require.Len(t, frames, 1)
	m, err := rfi341.Decode(frames[0].Payload)
	require.NoError(t, err)
	code, err := rfi341.AuthCodeOf(m)
	require.NoError(t, err)
	assert.Equal(t, rfi341.AuthCode(0x1234, testKey), code)
}

func TestDriver_RejectedAuthFallsBackThenFails(t *testing.T) {
	f := newFixture(t, `{"key": 1, "period_ms": 1, "reply_timeout_ms": 20, "auth_retries": 2}`)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.cycle(t))
		require.Equal(t, Authenticate, f.drv.State())
		require.NoError(t, f.cycle(t), "disconnected reply is recoverable")
		require.Equal(t, AcquireLinkCode, f.drv.State())
	}

	require.NoError(t, f.cycle(t))
	err := f.cycle(t)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, stderrors.Is(err, errors.ErrFatalDevice))
	assert.Equal(t, Error, f.drv.State())

	err = f.cycle(t)
	assert.True(t, errors.IsFatal(err), "error state is terminal")
}

func TestDriver_WrongRepliesForceReauthentication(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	f.reader.mu.Lock()
	f.reader.onData = func() *rfi341.Message {
		m := rfi341.LinkCodeReply(0x01, 0x9999)
		return &m
	}
	f.reader.mu.Unlock()

	for i := 0; i < 4; i++ {
		require.NoError(t, f.cycle(t))
		assert.Equal(t, DataAcquisition, f.drv.State(), "wrong reply %d", i+1)
	}
	require.NoError(t, f.cycle(t))
	assert.Equal(t, Authenticate, f.drv.State())

	f.reader.mu.Lock()
	f.reader.onData = nil
	f.reader.mu.Unlock()

	require.NoError(t, f.cycle(t))
	assert.Equal(t, DataAcquisition, f.drv.State())
	_, ok := f.sub.TryNext()
	assert.False(t, ok, "nothing published from wrong replies")
}

func TestDriver_GoodReplyResetsWrongCount(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	n := 0
	f.reader.mu.Lock()
	f.reader.onData = func() *rfi341.Message {
		n++
		if n%4 == 0 {
			return nil
		}
		m := rfi341.Message{ID: 0x01, Command: rfi341.CmdConnected}
		return &m
	}
	f.reader.mu.Unlock()

	for i := 0; i < 12; i++ {
		require.NoError(t, f.cycle(t))
		require.Equal(t, DataAcquisition, f.drv.State())
	}
}

func TestDriver_DisconnectedDuringDataRestartsNegotiation(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	f.reader.mu.Lock()
	f.reader.onData = func() *rfi341.Message {
		m := rfi341.Message{ID: 0x01, Command: rfi341.CmdDisconnected}
		return &m
	}
	f.reader.mu.Unlock()

	require.NoError(t, f.cycle(t))
	assert.Equal(t, AcquireLinkCode, f.drv.State())
}

func TestDriver_LinkCodeTimeoutDegradesButStays(t *testing.T) {
	f := newFixture(t, `{"period_ms": 1, "reply_timeout_ms": 10, "link_code_retries": 3}`)
	f.reader.silent = true

	for i := 0; i < 2; i++ {
		err := f.cycle(t)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	}
	require.NoError(t, f.cycle(t), "exhausted retries degrade instead of failing")
	assert.Equal(t, AcquireLinkCode, f.drv.State())

	err := f.cycle(t)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout), "retry budget restarts")
}

func TestDriver_KeepAliveReauthenticates(t *testing.T) {
	f := newFixture(t, `{"key": 48879, "period_ms": 1, "reply_timeout_ms": 20, "keep_alive_ms": 1000}`)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.drv.now = func() time.Time { return clock }
	f.connect(t)

	require.NoError(t, f.cycle(t))
	clock = clock.Add(1500 * time.Millisecond)
	require.NoError(t, f.cycle(t))
	require.NoError(t, f.cycle(t))

	assert.Equal(t, []byte{
		rfi341.CmdRequestLinkCode, rfi341.CmdAuthenticate,
		rfi341.CmdDataRequest,
		rfi341.CmdAuthenticate,
		rfi341.CmdDataRequest,
	}, commands(f.tr))
	assert.Equal(t, DataAcquisition, f.drv.State())
}

func TestDriver_PowerOffIdles(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t)

	require.NoError(t, f.drv.HandleCommand(f.env, types.NewCommand(rfidAddr, types.PowerCommand{On: false})))
	assert.Equal(t, Idle, f.drv.State())

	before := len(f.tr.Requests())
	require.NoError(t, f.cycle(t))
	require.NoError(t, f.cycle(t))
	assert.Len(t, f.tr.Requests(), before, "idle reader is not polled")

	require.NoError(t, f.drv.HandleCommand(f.env, types.NewCommand(rfidAddr, types.PowerCommand{On: true})))
	assert.Equal(t, AcquireLinkCode, f.drv.State())
	f.connect(t)

	err := f.drv.HandleCommand(f.env, types.NewCommand(rfidAddr, types.MotorCommand{VelX: 1}))
	assert.True(t, stderrors.Is(err, errors.ErrUnsupported))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	for _, raw := range []string{
		`{"max_wrong_replies": 0}`,
		`{"auth_retries": -1}`,
		`{"reply_timeout_ms": 0}`,
		`{"period_ms": -5}`,
	} {
		_, err := New(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}

	d, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, d.(*Driver).cfg.MaxWrongReplies)
}
