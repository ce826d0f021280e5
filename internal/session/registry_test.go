package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/skiff-ssh/skiff/internal/sshtest"
)

func testRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r := NewRegistry(opts)
	t.Cleanup(func() { r.CloseAll() })
	return r
}

func startServer(t *testing.T) *sshtest.Server {
	t.Helper()
	srv, err := sshtest.Start()
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func connectPassword(t *testing.T, r *Registry, srv *sshtest.Server) string {
	t.Helper()
	id, err := r.Connect(context.Background(), ConnectOptions{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: sshtest.User,
		Password: sshtest.Password,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return id
}

func TestConnectReturnsFreshIdentifier(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id := connectPassword(t, r, srv)
		if seen[id] {
			t.Fatalf("identifier %q issued twice", id)
		}
		seen[id] = true
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions listed, got %d", len(list))
	}
	for _, summary := range list {
		if !seen[summary.ID] {
			t.Errorf("listed unknown identifier %q", summary.ID)
		}
		if summary.Host != srv.Host || summary.Username != sshtest.User {
			t.Errorf("summary mismatch: %+v", summary)
		}
		if summary.State != StateReady {
			t.Errorf("expected ready state, got %s", summary.State)
		}
	}
}

func TestConnectWithPrivateKey(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})

	id, err := r.Connect(context.Background(), ConnectOptions{
		Host:       srv.Host,
		Port:       srv.Port,
		Username:   sshtest.User,
		PrivateKey: srv.ClientKeyPEM,
	})
	if err != nil {
		t.Fatalf("key connect: %v", err)
	}
	if _, err := r.Lookup(id); err != nil {
		t.Errorf("lookup after key connect: %v", err)
	}
}

func TestConnectWrongPasswordIsAuthError(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})

	_, err := r.Connect(context.Background(), ConnectOptions{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: sshtest.User,
		Password: "wrong",
	})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
}

func TestConnectUnreachableIsNetworkError(t *testing.T) {
	// Grab a port that is certainly closed.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	r := testRegistry(t, Options{ConnectTimeout: 2 * time.Second})
	_, err = r.Connect(context.Background(), ConnectOptions{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Username: "nobody",
		Password: "pw",
	})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %v", err)
	}
}

func TestConnectBadKeyIsAuthError(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})

	_, err := r.Connect(context.Background(), ConnectOptions{
		Host:       srv.Host,
		Port:       srv.Port,
		Username:   sshtest.User,
		PrivateKey: []byte("not a pem key"),
	})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError for unparseable key, got %v", err)
	}
}

func TestLookupUnknownIdentifier(t *testing.T) {
	r := testRegistry(t, Options{})
	_, err := r.Lookup("00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDisconnectIsIdempotentInEffect(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})
	id := connectPassword(t, r, srv)

	if err := r.Disconnect(id); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	err := r.Disconnect(id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second disconnect should report ErrNotFound, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestDisconnectRecordsStateAndEvents(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})
	id := connectPassword(t, r, srv)

	if err := r.Disconnect(id); err != nil {
		t.Fatal(err)
	}

	history := r.History(id)
	if len(history) == 0 {
		t.Fatal("no state transitions recorded")
	}
	last := history[len(history)-1]
	if last.To != StateClosed {
		t.Errorf("final state should be closed, got %s", last.To)
	}

	var sawDisconnect bool
	for _, e := range r.Events(id) {
		if e.Type == EventDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Error("expected a disconnected event")
	}
}

func TestMaxSessionsEnforced(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{MaxSessions: 1})

	connectPassword(t, r, srv)
	_, err := r.Connect(context.Background(), ConnectOptions{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: sshtest.User,
		Password: sshtest.Password,
	})
	if !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
}

func TestKeepaliveRemovesDeadSession(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{
		KeepaliveInterval: 50 * time.Millisecond,
		KeepaliveMaxMiss:  2,
	})
	id := connectPassword(t, r, srv)

	srv.DropConnections()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Lookup(id); errors.Is(err, ErrNotFound) {
			return // removed as expected
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dead session was not removed by keepalive")
}

func TestKeepaliveRemovesUnresponsiveSession(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{
		KeepaliveInterval: 50 * time.Millisecond,
		KeepaliveMaxMiss:  2,
	})
	id := connectPassword(t, r, srv)

	// The peer's TCP connection stays up but probes go unanswered. The
	// bounded probe wait must count each silent interval as a miss.
	srv.BlackholeRequests()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Lookup(id); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session with an unresponsive peer was not removed")
}

func TestStateCallbackFires(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})

	changes := make(chan State, 16)
	r.OnStateChange(func(id string, from, to State) { changes <- to })

	id := connectPassword(t, r, srv)
	r.Disconnect(id)

	// Connect and disconnect must have produced at least connecting,
	// ready, closing, closed.
	var states []State
	timeout := time.After(2 * time.Second)
	for len(states) < 4 {
		select {
		case s := <-changes:
			states = append(states, s)
		case <-timeout:
			t.Fatalf("expected at least 4 transitions, got %v", states)
		}
	}
}

func TestSweepIdleClosesStaleSessions(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{KeepaliveInterval: time.Hour})
	id := connectPassword(t, r, srv)

	time.Sleep(30 * time.Millisecond)
	if n := r.SweepIdle(10 * time.Millisecond); n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if _, err := r.Lookup(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("swept session should be gone, got %v", err)
	}
}

func TestPruneHistoryDropsClosedSessions(t *testing.T) {
	srv := startServer(t)
	r := testRegistry(t, Options{})
	id := connectPassword(t, r, srv)
	r.Disconnect(id)

	if len(r.Events(id)) == 0 {
		t.Fatal("expected events before pruning")
	}
	if n := r.PruneHistory(); n != 1 {
		t.Fatalf("expected 1 pruned history, got %d", n)
	}
	if len(r.Events(id)) != 0 {
		t.Error("events should be gone after pruning")
	}
}

func TestCloseAllRejectsFurtherConnects(t *testing.T) {
	srv := startServer(t)
	r := NewRegistry(Options{})
	connectPassword(t, r, srv)

	if err := r.CloseAll(); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry after CloseAll")
	}
	_, err := r.Connect(context.Background(), ConnectOptions{
		Host: srv.Host, Port: srv.Port, Username: sshtest.User, Password: sshtest.Password,
	})
	if err == nil {
		t.Error("connect after CloseAll should fail")
	}
}
