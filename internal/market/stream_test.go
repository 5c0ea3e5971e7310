package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activityFrame = `{"topic":"activity","type":"trades","timestamp":1767225600123,"payload":{
	"proxyWallet":"0xWhale","side":"BUY","outcome":"No","price":0.3,"size":1000,
	"timestamp":1767225600,"slug":"fed-cut","conditionId":"c1","title":"Fed cut?"}}`

func TestParseActivity(t *testing.T) {
	trades, err := ParseActivity([]byte(activityFrame))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xwhale", trades[0].Wallet)
	assert.Equal(t, Bearish, trades[0].Direction)
	assert.Equal(t, "fed-cut", trades[0].Slug)

	for _, frame := range []string{"", "PONG", `{"topic":"comments","payload":{}}`, `{"topic":"activity"}`} {
		trades, err := ParseActivity([]byte(frame))
		assert.NoError(t, err, frame)
		assert.Empty(t, trades, frame)
	}

	_, err = ParseActivity([]byte(`{"topic":`))
	assert.Error(t, err)
}

func TestStream_SubscribesAndForwards(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteMessage(websocket.TextMessage, []byte(activityFrame))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := make(chan Trade, 4)
	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Action)
		require.Len(t, sub.Subscriptions, 1)
		assert.Equal(t, "activity", sub.Subscriptions[0].Topic)
	case <-ctx.Done():
		t.Fatal("no subscription received")
	}

	select {
	case tr := <-out:
		assert.Equal(t, "0xwhale", tr.Wallet)
		assert.InDelta(t, 300, tr.Volume(), 1e-9)
	case <-ctx.Done():
		t.Fatal("no trade forwarded")
	}
}

func TestStream_DropsWhenChannelFull(t *testing.T) {
	out := make(chan Trade)
	s := NewStream("ws://unused", out)
	assert.NotPanics(t, func() { s.dispatch([]byte(activityFrame)) })
}

func TestStream_AttachClosesOnSubscribeFailure(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	s := NewStream("ws://unused", make(chan Trade))
	s.backoff = 4 * time.Second
	require.Error(t, s.attach(conn))

	s.connMu.Lock()
	defer s.connMu.Unlock()
	assert.Nil(t, s.conn)
	assert.Equal(t, 4*time.Second, s.backoff)
}
