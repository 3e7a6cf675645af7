package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFanOut_SlowSubscriberDropsInsteadOfBlocking is spec.md §4.3's
// "subscribers are isolated (one slow subscriber must not block
// publishers)": a subscriber whose buffer is full gets its message
// dropped, never stalling delivery to other subscribers.
func TestFanOut_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	c := &Client{}
	slow := make(chan []byte) // unbuffered: any send blocks without a reader
	fast := make(chan []byte, 1)

	hub := &channelHub{subscribers: map[uint64]chan []byte{
		1: slow,
		2: fast,
	}}

	done := make(chan struct{})
	go func() {
		c.fanOut("token-events", hub, []byte(`{"event":"NEW_TOKEN"}`))
		close(done)
	}()
	<-done // fanOut must return even though nothing ever reads from slow

	select {
	case got := <-fast:
		require.Equal(t, `{"event":"NEW_TOKEN"}`, string(got))
	default:
		t.Fatal("fast subscriber should have received the payload")
	}
}

// TestFanOut_MultipleSubscribersAllReceive confirms a publish reaches
// every local subscriber of a channel.
func TestFanOut_MultipleSubscribersAllReceive(t *testing.T) {
	c := &Client{}
	a := make(chan []byte, 1)
	b := make(chan []byte, 1)
	hub := &channelHub{subscribers: map[uint64]chan []byte{1: a, 2: b}}

	c.fanOut("pair-events", hub, []byte("payload"))

	require.Equal(t, []byte("payload"), <-a)
	require.Equal(t, []byte("payload"), <-b)
}
