package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	applogger "EventArb/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache holds the latest streamed price per symbol.
type PriceCache struct {
	mu sync.RWMutex
	m  map[string]pricePoint
}

func NewPriceCache() *PriceCache {
	return &PriceCache{m: make(map[string]pricePoint)}
}

func (c *PriceCache) Set(symbol string, price decimal.Decimal, at time.Time) {
	c.mu.Lock()
	c.m[strings.ToUpper(symbol)] = pricePoint{price: price, at: at}
	c.mu.Unlock()
}

func (c *PriceCache) Get(symbol string) (decimal.Decimal, time.Time, bool) {
	c.mu.RLock()
	p, ok := c.m[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	return p.price, p.at, ok
}

// PriceStream keeps PriceCache fresh from the mini ticker websocket feed and
// reconnects until its context is cancelled.
type PriceStream struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	cache          *PriceCache
	log            *applogger.Logger
	now            func() time.Time

	mu        sync.Mutex
	connected bool
}

func NewPriceStream(url string, symbols []string, cache *PriceCache, reconnectDelay, pingInterval time.Duration, log *applogger.Logger) *PriceStream {
	if log == nil {
		log = applogger.Nop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &PriceStream{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		cache:          cache,
		log:            log.With(applogger.String("component", "price_stream")),
		now:            time.Now,
	}
}

// Run blocks until ctx is done.
func (s *PriceStream) Run(ctx context.Context) {
	if len(s.symbols) == 0 {
		s.log.Info("price stream disabled: no symbols")
		return
	}
	for {
		err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("price stream disconnected", applogger.Error(err), applogger.Duration("retry_in", s.reconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *PriceStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *PriceStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type miniTicker struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

func (s *PriceStream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("price stream connect: %w", err)
	}
	defer conn.Close()

	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: streams, ID: 1}); err != nil {
		return fmt.Errorf("price stream subscribe: %w", err)
	}
	s.setConnected(true)
	s.log.Info("price stream connected", applogger.Strings("streams", streams))

	done := make(chan struct{})
	defer close(done)

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// unblocks ReadMessage
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("price stream read: %w", err)
		}
		var m miniTicker
		if err := json.Unmarshal(b, &m); err != nil || m.Event != "24hrMiniTicker" {
			// subscription acks and unrelated frames
			continue
		}
		p, err := decimal.NewFromString(m.Close)
		if err != nil || !p.IsPositive() {
			continue
		}
		s.cache.Set(m.Symbol, p, s.now())
	}
}
