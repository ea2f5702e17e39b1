package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/logger"
)

// Stream keeps the latest bid/ask per symbol from the bridge websocket.
type Stream struct {
	url            string
	apiKey         string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	quotes    map[string]models.Quote
	connected atomic.Bool
	now       func() time.Time
}

func NewStream(url, apiKey string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.Nop()
	}
	return &Stream{
		url:            url,
		apiKey:         apiKey,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		quotes:         make(map[string]models.Quote),
		now:            time.Now,
	}
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type quoteMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	T      int64   `json:"t"` // ms
}

// Run connects, subscribes and reads until ctx ends, reconnecting after
// every failure.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("quote stream dropped", logger.Error(err), logger.Duration("retry_in_ms", s.reconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbols: s.symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.connected.Store(true)
	s.log.Info("quote stream connected", logger.Strings("symbols", s.symbols))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepAlive(sctx, conn)

	// Closing the connection unblocks ReadMessage when ctx ends.
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var m quoteMessage
		if err := json.Unmarshal(b, &m); err != nil || m.Type != "quote" {
			continue
		}
		s.store(m)
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	u := s.url
	if s.apiKey != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u = u + sep + "token=" + s.apiKey
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Stream) store(m quoteMessage) {
	t := s.now()
	if m.T > 0 {
		t = time.UnixMilli(m.T).UTC()
	}
	s.mu.Lock()
	s.quotes[strings.ToUpper(m.Symbol)] = models.Quote{Symbol: m.Symbol, Bid: m.Bid, Ask: m.Ask, Time: t}
	s.mu.Unlock()
}

// Latest returns the cached quote for symbol if it is at most maxAge old.
func (s *Stream) Latest(symbol string, maxAge time.Duration) (models.Quote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok || s.now().Sub(q.Time) > maxAge {
		return models.Quote{}, false
	}
	return q, true
}

func (s *Stream) IsConnected() bool { return s.connected.Load() }

// Close drops the current connection; Run reconnects unless its ctx is done.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
