package monitor

import (
	"context"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/mpcal-runtime/distsys/tla"
)

// reserveLoopbackAddr grabs an ephemeral loopback port, then immediately
// frees it so ListenAndServe can bind the same address; the returned release
// func is a no-op, kept only so call sites read as "reserve, then release".
func reserveLoopbackAddr(t *testing.T) (addr string, release func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a loopback port: %v", err)
	}
	addr = l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("releasing the reserved port: %v", err)
	}
	return addr, func() {}
}

// waitForListener polls addr until a TCP dial succeeds or the deadline
// expires, since ListenAndServe binds asynchronously on its own goroutine.
func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("monitor never started listening on %s", addr)
}

func TestQueryUnregisteredPeerIsUnknown(t *testing.T) {
	m := NewMonitor(":0", time.Second)
	if got := m.Query(tla.Number(1)); got != StatusUnknown {
		t.Errorf("got %v, want StatusUnknown", got)
	}
}

func TestRegisteredPeerIsAliveWithinWindow(t *testing.T) {
	m := NewMonitor(":0", time.Minute)
	m.Register(tla.Number(1))
	if got := m.Query(tla.Number(1)); got != StatusAlive {
		t.Errorf("got %v, want StatusAlive", got)
	}
}

func TestPeerBecomesSuspectedAfterInactivityWindow(t *testing.T) {
	m := NewMonitor(":0", 10*time.Millisecond)
	m.Register(tla.Number(1))
	time.Sleep(30 * time.Millisecond)
	if got := m.Query(tla.Number(1)); got != StatusSuspected {
		t.Errorf("got %v, want StatusSuspected", got)
	}
}

func TestHeartbeatExtendsLiveness(t *testing.T) {
	m := NewMonitor(":0", 30*time.Millisecond)
	m.Register(tla.Number(1))
	time.Sleep(15 * time.Millisecond)
	m.Heartbeat(tla.Number(1))
	time.Sleep(20 * time.Millisecond)
	if got := m.Query(tla.Number(1)); got != StatusAlive {
		t.Errorf("a heartbeat partway through the window should keep the peer alive, got %v", got)
	}
}

func TestZeroInactivityWindowUsesDefault(t *testing.T) {
	m := NewMonitor(":0", 0)
	if m.InactivityWindow != defaultInactivityWindow {
		t.Errorf("got %v, want the default %v", m.InactivityWindow, defaultInactivityWindow)
	}
}

func TestListenAndServeRoundTripsRegisterAndQuery(t *testing.T) {
	m := NewMonitor("127.0.0.1:0", time.Minute)

	// NewMonitor doesn't resolve an ephemeral port up front; bind it and
	// patch the listen address so ListenAndServe binds the same one.
	addr, release := reserveLoopbackAddr(t)
	release()
	m.ListenAddr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- m.ListenAndServe(ctx) }()

	waitForListener(t, addr)

	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Call("MonitorRPCReceiver.Register", RegisterArgs{PeerID: tla.Number(1)}, &struct{}{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var reply QueryReply
	if err := client.Call("MonitorRPCReceiver.Query", QueryArgs{PeerID: tla.Number(1)}, &reply); err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.Status != StatusAlive {
		t.Errorf("got %v, want StatusAlive", reply.Status)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("ListenAndServe returned %v after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe did not stop after context cancellation")
	}
}
