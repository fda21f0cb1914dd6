package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type pricePoint struct {
	price float64
	at    time.Time
}

// MarkPriceStream keeps a last-known mark price per symbol from the venue's
// websocket feed. Readers treat entries older than the staleness bound as
// misses and fall back to REST, so a dead stream degrades instead of serving
// stale prices.
type MarkPriceStream struct {
	wsURL      string
	symbols    []string
	staleAfter time.Duration
	reconnect  time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	prices map[string]pricePoint
	conn   *websocket.Conn

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewMarkPriceStream(wsURL string, symbols []string, staleAfter time.Duration, logger *zap.Logger) *MarkPriceStream {
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Second
	}
	return &MarkPriceStream{
		wsURL:      wsURL,
		symbols:    symbols,
		staleAfter: staleAfter,
		reconnect:  5 * time.Second,
		logger:     logger,
		prices:     make(map[string]pricePoint),
		stopChan:   make(chan struct{}),
	}
}

func (s *MarkPriceStream) Start(ctx context.Context) {
	if len(s.symbols) == 0 {
		return
	}
	s.logger.Info("Starting mark price stream",
		zap.String("url", s.wsURL),
		zap.Strings("symbols", s.symbols))
	go s.run(ctx)
}

func (s *MarkPriceStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

// LastPrice implements the monitor's price source. A symbol without a fresh
// update reports a miss.
func (s *MarkPriceStream) LastPrice(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok || time.Since(p.at) > s.staleAfter {
		return 0, false
	}
	return p.price, true
}

func (s *MarkPriceStream) run(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil {
			s.logger.Warn("Mark price stream disconnected", zap.Error(err))
		}

		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.reconnect):
		}
	}
}

func (s *MarkPriceStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@markPrice"
	}
	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.logger.Info("Mark price stream connected", zap.Int("streams", len(streams)))

	for {
		select {
		case <-s.stopChan:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		// Mark price pushes arrive every few seconds; a silent minute
		// means the connection is dead.
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(message)
	}
}

func (s *MarkPriceStream) handleMessage(message []byte) {
	var event struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.Event != "markPriceUpdate" {
		return
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	s.mu.Lock()
	s.prices[event.Symbol] = pricePoint{price: price, at: time.Now()}
	s.mu.Unlock()
}
