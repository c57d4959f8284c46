package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"threshold_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	wsPingEvery  = 15 * time.Second
	wsMaxBackoff = 30 * time.Second
)

// TickerFeed держит последнюю цену пары из ws v2 канала ticker.
type TickerFeed struct {
	url    string
	symbol string
	dialer *websocket.Dialer

	mu   sync.RWMutex
	last float64
	at   time.Time
	conn atomic.Bool
	now  func() time.Time
}

func NewTickerFeed(wsURL, symbol string) *TickerFeed {
	return &TickerFeed{
		url:    wsURL,
		symbol: symbol,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (f *TickerFeed) Connected() bool { return f.conn.Load() }

func (f *TickerFeed) set(price float64) {
	f.mu.Lock()
	f.last = price
	f.at = f.now()
	f.mu.Unlock()
}

// Fresh — цена, если она моложе maxAge.
func (f *TickerFeed) Fresh(maxAge time.Duration) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last <= 0 || f.at.IsZero() {
		return 0, false
	}
	if maxAge > 0 && f.now().Sub(f.at) > maxAge {
		return 0, false
	}
	return f.last, true
}

// Run — цикл переподключений до отмены ctx.
func (f *TickerFeed) Run(ctx context.Context) {
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.session(ctx)
		f.conn.Store(false)
		if ctx.Err() != nil {
			return
		}
		retry++
		backoff := time.Duration(math.Min(float64(wsMaxBackoff), float64(time.Duration(300*retry)*time.Millisecond)))
		logger.Warn("Kraken ws %s disconnected: %v; reconnect in %s", f.symbol, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (f *TickerFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := wsRequest{
		Method: "subscribe",
		Params: map[string]any{"channel": "ticker", "symbol": []string{f.symbol}},
	}
	if err := f.writeJSON(conn, sub); err != nil {
		return err
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(wsPingEvery)
		defer t.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ctx.Done():
				// разблокировать ReadMessage
				_ = conn.Close()
				return
			case <-t.C:
				_ = f.writeJSON(conn, wsRequest{Method: "ping"})
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(msg)
	}
}

func (f *TickerFeed) handle(msg []byte) {
	var frame wsFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return
	}
	switch {
	case frame.Method == "subscribe":
		if frame.Success != nil && !*frame.Success {
			logger.Error("Kraken ws subscribe %s failed: %s", f.symbol, frame.Error)
			return
		}
		f.conn.Store(true)
		logger.Info("Kraken ws subscribed to ticker %s", f.symbol)
	case frame.Channel == "ticker":
		for _, d := range frame.Data {
			if d.Symbol == f.symbol && d.Last > 0 {
				f.set(d.Last)
			}
		}
	}
}

func (f *TickerFeed) writeJSON(conn *websocket.Conn, v any) error {
	bs, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, bs)
}
