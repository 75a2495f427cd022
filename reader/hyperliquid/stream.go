package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candleflow/config"
	"candleflow/internal/channel"
	"candleflow/internal/symbols"
	"candleflow/logger"
)

// Stream subscribes to live trades over the Hyperliquid websocket and feeds
// them into the trade channels. Connection loss triggers a reconnect after a
// fixed delay until Stop.
type Stream struct {
	wsURL          string
	coins          []string
	reconnectDelay time.Duration
	channels       *channel.Channels
	ctx            context.Context
	wg             *sync.WaitGroup
	mu             sync.RWMutex
	running        bool
	log            *logger.Log
}

// NewStream creates a trade stream for the given symbols.
func NewStream(srcCfg config.HyperliquidSourceConfig, streamCfg config.StreamConfig, syms []string, ch *channel.Channels) *Stream {
	coins := make([]string, len(syms))
	for i, s := range syms {
		coins[i] = symbols.ToHyperliquid(s)
	}

	delay := streamCfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return &Stream{
		wsURL:          srcCfg.WSURL,
		coins:          coins,
		reconnectDelay: delay,
		channels:       ch,
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
	}
}

// Start connects the websocket and begins streaming trades.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("trade stream already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("hyperliquid_stream").WithFields(logger.Fields{"operation": "Start"})
	log.WithFields(logger.Fields{"coins": s.coins, "url": s.wsURL}).Info("starting trade stream")

	s.wg.Add(1)
	go s.run()

	log.Info("trade stream started successfully")
	return nil
}

// Stop terminates the websocket subscription and waits for the reader to
// exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("hyperliquid_stream").Info("stopping trade stream")
	s.wg.Wait()
	s.log.WithComponent("hyperliquid_stream").Info("trade stream stopped")
}

type subscribeMessage struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (s *Stream) run() {
	defer s.wg.Done()

	log := s.log.WithComponent("hyperliquid_stream").WithFields(logger.Fields{"worker": "trade_stream"})

	for {
		if s.ctx.Err() != nil {
			return
		}

		err := s.stream(log)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("websocket disconnected, reconnecting")
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// stream runs one websocket session: dial, subscribe, then pump inbound
// trade frames until the connection drops or the context is cancelled.
func (s *Stream) stream(log *logger.Entry) error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for _, coin := range s.coins {
		sub := subscribeMessage{
			Method:       "subscribe",
			Subscription: subscription{Type: "trades", Coin: coin},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", coin, err)
		}
	}
	log.WithFields(logger.Fields{"coins": s.coins}).Info("subscribed to trade streams")

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		if frame.Channel != "trades" {
			continue
		}

		var wires []tradeWire
		if err := json.Unmarshal(frame.Data, &wires); err != nil {
			log.WithError(err).Warn("failed to decode trade frame")
			continue
		}

		for _, w := range wires {
			trade, err := w.toTrade()
			if err != nil {
				log.WithError(err).Warn("failed to parse trade")
				continue
			}

			if s.channels.SendTrade(s.ctx, trade) {
				logger.RecordChannelMessage("trades_ws", len(frame.Data))
			} else if s.ctx.Err() != nil {
				return nil
			} else {
				logger.IncrementStreamDrop()
				log.Warn("trade channel full, dropping trade")
			}
		}
	}
}
