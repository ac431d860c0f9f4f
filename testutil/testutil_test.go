package testutil

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/errors"
)

func TestMockNATSClient_PublishDelivers(t *testing.T) {
	client := NewMockNATSClient()
	ctx := context.Background()

	var got [][]byte
	require.NoError(t, client.Subscribe(ctx, "devices.cmd", func(_ context.Context, data []byte) {
		got = append(got, data)
		// Subscribing from inside a handler must not deadlock.
		require.NoError(t, client.Subscribe(ctx, "devices.other", func(context.Context, []byte) {}))
	}))

	require.NoError(t, client.Publish(ctx, "devices.cmd", []byte("a")))
	require.NoError(t, client.Publish(ctx, "devices.cmd", []byte("b")))
	require.NoError(t, client.Publish(ctx, "devices.none", []byte("c")))

	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
	assert.Equal(t, 2, client.GetMessageCount("devices.cmd"))
	assert.Equal(t, [][]byte{[]byte("c")}, client.GetMessages("devices.none"))
	WaitForMessageCount(t, client, "devices.cmd", 2, time.Second)

	require.NoError(t, client.Close())
	assert.Error(t, client.Publish(ctx, "devices.cmd", []byte("d")))
	assert.Error(t, client.Subscribe(ctx, "devices.cmd", func(context.Context, []byte) {}))
}

func TestMockKVStore_CopiesValues(t *testing.T) {
	kv := NewMockKVStore()
	value := []byte("fix")
	require.NoError(t, kv.Put(context.Background(), "gps", value))
	value[0] = 'X'

	got, ok := kv.Get("gps")
	require.True(t, ok)
	assert.Equal(t, "fix", string(got))
	assert.Equal(t, []string{"gps"}, kv.Keys())

	_, ok = kv.Get("missing")
	assert.False(t, ok)
}

func TestReplay_ChunksThenTimesOut(t *testing.T) {
	r := NewReplay([]byte("abcde"), 2)
	buf := make([]byte, 8)

	n, err := r.Read(buf, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	n, _ = r.Read(buf, time.Millisecond)
	assert.Equal(t, "cd", string(buf[:n]))
	n, _ = r.Read(buf, time.Millisecond)
	assert.Equal(t, "e", string(buf[:n]))

	_, err = r.Read(buf, time.Millisecond)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.True(t, errors.IsTransient(err))
}

func TestScripted_RepliesToRequests(t *testing.T) {
	s := NewScripted(func(req []byte) []byte {
		if string(req) == "ping" {
			return []byte("pong")
		}
		return nil
	})

	_, err := s.Write([]byte("ping"))
	require.NoError(t, err)
	_, err = s.Write([]byte("noise"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := s.Read(buf, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
	assert.Len(t, s.Requests(), 2)
}
