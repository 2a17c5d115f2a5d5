package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFIFO(t *testing.T) {
	in := NewInbox[int]()
	for i := 1; i <= 3; i++ {
		require.True(t, in.Push(i))
	}
	assert.Equal(t, 3, in.Len())

	for want := 1; want <= 3; want++ {
		got, ok := in.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, in.Len())
}

func TestInboxDirectHandOff(t *testing.T) {
	in := NewInbox[string]()
	got := make(chan string, 1)
	go func() {
		v, ok := in.Next(context.Background())
		if ok {
			got <- v
		}
	}()

	require.Eventually(t, func() bool { return in.Parked() == 1 }, time.Second, time.Millisecond)
	require.True(t, in.Push("m1"))
	assert.Equal(t, 0, in.Len(), "hand-off must bypass the queue")

	select {
	case v := <-got:
		assert.Equal(t, "m1", v)
	case <-time.After(time.Second):
		t.Fatal("parked consumer was not resolved")
	}
	assert.Equal(t, 0, in.Parked())
}

func TestInboxCloseReleasesParked(t *testing.T) {
	in := NewInbox[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := in.Next(context.Background())
		done <- ok
	}()
	require.Eventually(t, func() bool { return in.Parked() == 1 }, time.Second, time.Millisecond)

	in.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not release the parked consumer")
	}
}

func TestInboxAfterClose(t *testing.T) {
	in := NewInbox[int]()
	in.Push(1)
	in.Close()
	in.Close()

	assert.True(t, in.Closed())
	assert.Equal(t, 0, in.Len(), "close drops queued items")
	assert.False(t, in.Push(2))

	v, ok := in.Next(context.Background())
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestInboxNextHonorsContext(t *testing.T) {
	in := NewInbox[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := in.Next(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, in.Parked())

	// The inbox is still usable.
	in.Push(7)
	v, ok := in.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestInboxManyProducers(t *testing.T) {
	in := NewInbox[int]()
	const producers, each = 8, 100
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < each; i++ {
				in.Push(i)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := 0; n < producers*each; n++ {
		_, ok := in.Next(ctx)
		require.True(t, ok, "item %d", n)
	}
	assert.Equal(t, 0, in.Len())
}

func BenchmarkInboxPushNext(b *testing.B) {
	in := NewInbox[int]()
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		in.Push(i)
		in.Next(ctx)
	}
}
