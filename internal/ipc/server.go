// Package ipc accepts market alerts over a local TCP socket, one JSON object
// per line, and feeds them into the trading pipeline.
package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/metrics"
)

// SignalHandler receives validated wire messages. Dispatch is synchronous:
// the connection reads the next line only after the handler returns.
type SignalHandler interface {
	OnSignal(ctx context.Context, msgType int, msgID, symbol string, payload map[string]interface{})
}

type Config struct {
	Addr         string // default 127.0.0.1:8765
	MaxLineBytes int    // scanner cap per line, default 1 MiB
}

// Server is the JSON-lines ingestion listener. Malformed lines are counted
// and skipped without closing the connection; only an oversized line or a
// read error ends a connection loop.
type Server struct {
	cfg     Config
	handler SignalHandler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

func NewServer(cfg Config, handler SignalHandler, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8765"
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1 << 20
	}
	return &Server{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Signal server listening", zap.String("addr", listener.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr reports the bound address, useful when the config asked for port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Signal server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Failed to accept connection", zap.Error(err))
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)
	defer conn.Close()

	metrics.IPCConnections.Inc()
	defer metrics.IPCConnections.Dec()

	remote := conn.RemoteAddr().String()
	s.logger.Info("Signal connection opened", zap.String("remote", remote))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), s.cfg.MaxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.dispatch(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("Signal connection read error",
			zap.String("remote", remote),
			zap.Error(err))
	}
	s.logger.Info("Signal connection closed", zap.String("remote", remote))
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	var payload map[string]interface{}
	if err := json.Unmarshal(line, &payload); err != nil {
		metrics.SignalsDropped.WithLabelValues("malformed").Inc()
		s.logger.Warn("Malformed signal line skipped", zap.Error(err))
		return
	}

	msgType, ok := intField(payload, "type")
	id, _ := payload["id"].(string)
	symbol, _ := payload["symbol"].(string)
	if !ok || id == "" || symbol == "" {
		metrics.SignalsDropped.WithLabelValues("invalid").Inc()
		s.logger.Warn("Signal missing required fields",
			zap.Int("type", msgType),
			zap.String("id", id),
			zap.String("symbol", symbol))
		return
	}

	s.handler.OnSignal(ctx, msgType, id, symbol, payload)
}

// intField reads a JSON number as an int. encoding/json decodes all numbers
// into float64 inside a map.
func intField(payload map[string]interface{}, key string) (int, bool) {
	v, ok := payload[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}
