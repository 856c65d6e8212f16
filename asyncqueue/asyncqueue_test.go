package asyncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveOrder(t *testing.T) {
	q := New[int](2)
	ctx := context.Background()

	require.True(t, q.Send(ctx, 1))
	require.True(t, q.Send(ctx, 2))

	v, ok := q.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCloseDrainsBuffered(t *testing.T) {
	q := New[int](4)
	ctx := context.Background()

	require.True(t, q.Send(ctx, 10))
	require.True(t, q.Send(ctx, 20))
	q.Close()

	v, ok := q.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, 10, v)

	v, ok = q.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, 20, v)

	_, ok = q.Receive(ctx)
	assert.False(t, ok)
}

func TestCloseUnblocksPendingSend(t *testing.T) {
	q := New[int](0)
	ctx := context.Background()
	done := make(chan bool, 1)

	go func() {
		done <- q.Send(ctx, 1)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int](1)
	assert.NotPanics(t, func() {
		q.Close()
		q.Close()
	})
}
