package wsbroadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/riftindex/chainindexer/internal/obslog"
)

// fakeSubscriber hands out a single channel per topic so a test can push
// payloads directly without a running redis instance.
type fakeSubscriber struct {
	byChannel map[string]chan []byte
}

func newFakeSubscriber() *fakeSubscriber {
	f := &fakeSubscriber{byChannel: make(map[string]chan []byte)}
	for _, ch := range Channels {
		f.byChannel[ch] = make(chan []byte, 4)
	}
	return f
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	return f.byChannel[channel], func() {}
}

func (f *fakeSubscriber) publish(channel string, payload []byte) {
	f.byChannel[channel] <- payload
}

func TestHub_RelaysPublishToConnectedClient(t *testing.T) {
	fake := newFakeSubscriber()
	hub := &Hub{kv: fake, log: obslog.New("test", "error"), clients: make(map[uint64]*client)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the upgrade/registration a moment before publishing.
	time.Sleep(20 * time.Millisecond)
	fake.publish("websocket:new_token", []byte(`{"address":"0xaa"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "0xaa")
	require.Contains(t, string(msg), "websocket:new_token")
}

func TestHub_EvictsClientOnDisconnect(t *testing.T) {
	fake := newFakeSubscriber()
	hub := &Hub{kv: fake, log: obslog.New("test", "error"), clients: make(map[uint64]*client)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
