package ipc_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/ipc"
)

type receivedSignal struct {
	msgType int
	id      string
	symbol  string
	price   float64
}

type stubHandler struct {
	mu  sync.Mutex
	got []receivedSignal
}

func (h *stubHandler) OnSignal(ctx context.Context, msgType int, msgID, symbol string, payload map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	price, _ := payload["price"].(float64)
	h.got = append(h.got, receivedSignal{msgType: msgType, id: msgID, symbol: symbol, price: price})
}

func (h *stubHandler) signals() []receivedSignal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]receivedSignal, len(h.got))
	copy(out, h.got)
	return out
}

func startServer(t *testing.T) (*ipc.Server, *stubHandler) {
	t.Helper()
	handler := &stubHandler{}
	srv := ipc.NewServer(ipc.Config{Addr: "127.0.0.1:0"}, handler, zap.NewNop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, handler
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerDispatchesValidLines(t *testing.T) {
	srv, handler := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, `{"type": 110, "id": "o1", "symbol": "$BTC", "price": 42.5}`)
	fmt.Fprintln(conn, `{broken json`)
	fmt.Fprintln(conn, `{"type": 113, "id": "s1", "symbol": "BTC"}`)

	waitFor(t, "two dispatched signals", func() bool { return len(handler.signals()) == 2 })

	got := handler.signals()
	if got[0].msgType != 110 || got[0].id != "o1" || got[0].symbol != "$BTC" {
		t.Errorf("first signal = %+v", got[0])
	}
	if got[0].price != 42.5 {
		t.Errorf("payload price = %v, want 42.5", got[0].price)
	}
	if got[1].msgType != 113 || got[1].id != "s1" {
		t.Errorf("second signal = %+v", got[1])
	}
}

func TestServerSkipsLinesMissingRequiredFields(t *testing.T) {
	srv, handler := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	// Missing id, missing symbol, non-numeric type: all skipped, and the
	// connection keeps serving the valid line that follows.
	fmt.Fprintln(conn, `{"type": 110, "symbol": "BTC"}`)
	fmt.Fprintln(conn, `{"type": 110, "id": "o1"}`)
	fmt.Fprintln(conn, `{"type": "opportunity", "id": "o2", "symbol": "BTC"}`)
	fmt.Fprintln(conn, ``)
	fmt.Fprintln(conn, `{"type": 110, "id": "o3", "symbol": "BTC"}`)

	waitFor(t, "the valid trailing signal", func() bool { return len(handler.signals()) == 1 })

	if got := handler.signals()[0]; got.id != "o3" {
		t.Errorf("dispatched signal = %+v, want id o3", got)
	}
}

func TestServerHandlesConcurrentConnections(t *testing.T) {
	srv, handler := startServer(t)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", srv.Addr())
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		fmt.Fprintf(conn, `{"type": 110, "id": "o%d", "symbol": "BTC"}`+"\n", i)
		conn.Close()
	}

	waitFor(t, "three dispatched signals", func() bool { return len(handler.signals()) == 3 })

	seen := map[string]bool{}
	for _, sig := range handler.signals() {
		seen[sig.id] = true
	}
	if len(seen) != 3 {
		t.Errorf("signal ids = %v, want o0 o1 o2", seen)
	}
}

func TestServerStopClosesListener(t *testing.T) {
	handler := &stubHandler{}
	srv := ipc.NewServer(ipc.Config{Addr: "127.0.0.1:0"}, handler, zap.NewNop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	addr := srv.Addr()
	srv.Stop()

	if _, err := net.Dial("tcp", addr); err == nil {
		t.Error("listener still accepting after Stop")
	}
}
