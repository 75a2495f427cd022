package hyperliquid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"candleflow/config"
	"candleflow/internal/channel"
)

func TestStreamDeliversTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMessage, 4)

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
		subs <- sub

		frame := `{"channel":"trades","data":[{"coin":"BTC","side":"B","px":"50000","sz":"0.1","time":1700000000000,"tid":42}]}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}

		// Hold the session open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch := channel.NewChannels(4)
	stream := NewStream(
		config.HyperliquidSourceConfig{WSURL: wsURL},
		config.StreamConfig{ReconnectDelay: 10 * time.Millisecond},
		[]string{"BTC/USD"},
		ch,
	)

	ctx, cancel := context.WithCancel(context.Background())
	if err := stream.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := stream.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	select {
	case sub := <-subs:
		if sub.Method != "subscribe" || sub.Subscription.Type != "trades" || sub.Subscription.Coin != "BTC" {
			t.Errorf("unexpected subscription: %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message received")
	}

	select {
	case trade := <-ch.Trades:
		if trade.ID != 42 || trade.Side != "buy" || trade.Symbol != "BTC" {
			t.Errorf("unexpected trade: %+v", trade)
		}
		if trade.Price.String() != "50000" {
			t.Errorf("price = %s, want 50000", trade.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trade received")
	}

	cancel()
	stream.Stop()
}
