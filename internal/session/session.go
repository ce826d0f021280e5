package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session owns one authenticated SSH connection to one remote host. The
// underlying *ssh.Client is owned exclusively by the Session and is never
// handed to callers directly; operations open ephemeral channels through
// OpenSession and OpenSFTP instead. SSH multiplexes channels over the single
// TCP connection, so concurrent operations on one session are expected.
type Session struct {
	// ID is the opaque identifier minted at connect time.
	ID string
	// Host, Port, and Username describe the remote endpoint. Credential
	// material is not retained after the handshake.
	Host     string
	Port     int
	Username string
	// CreatedAt is when the connection was established.
	CreatedAt time.Time

	client    *ssh.Client
	keepStop  func()
	onStale   func(s *Session, reason string) // set by the registry; forces removal
	chanSlots chan struct{}                   // bounds concurrent channels; nil means unbounded

	mu           sync.Mutex
	lastActivity time.Time
	active       int // currently open channels
	closed       bool
	tracker      *stateTracker
}

// Touch updates the last-activity timestamp. Every executed operation and
// every answered keepalive probe calls this.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent operation or probe.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.tracker.get(s.ID)
}

// acquireChannel reserves a channel slot and moves the session to Busy when
// the first channel opens. It fails when the session has been closed or the
// per-session channel cap is exhausted.
func (s *Session) acquireChannel() (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &ConnectionLostError{Err: fmt.Errorf("session %s is closed", s.ID)}
	}
	s.mu.Unlock()

	if s.chanSlots != nil {
		select {
		case s.chanSlots <- struct{}{}:
		default:
			return nil, fmt.Errorf("session %s: channel limit reached", s.ID)
		}
	}

	s.mu.Lock()
	s.active++
	if s.active == 1 {
		s.tracker.set(s.ID, StateBusy, "channel opened")
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return func() {
		if s.chanSlots != nil {
			<-s.chanSlots
		}
		s.mu.Lock()
		s.active--
		idle := s.active == 0
		closed := s.closed
		s.lastActivity = time.Now()
		s.mu.Unlock()
		// Busy is re-entrant: only the last channel closing returns the
		// session to Ready, and never after teardown began.
		if idle && !closed && s.tracker.get(s.ID) == StateBusy {
			s.tracker.set(s.ID, StateReady, "all channels closed")
		}
	}, nil
}

// OpenSession opens a command channel on the connection. The returned
// release function must be called once the channel is no longer in use; it
// does not close the *ssh.Session itself.
func (s *Session) OpenSession() (*ssh.Session, func(), error) {
	release, err := s.acquireChannel()
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.client.NewSession()
	if err != nil {
		release()
		s.markStale(fmt.Sprintf("open channel: %v", err))
		return nil, nil, &ConnectionLostError{Err: fmt.Errorf("open channel on %s: %w", s.ID, err)}
	}
	return sess, release, nil
}

// OpenSFTP opens a dedicated SFTP channel on the connection. The returned
// release function must be called after the *sftp.Client is closed.
func (s *Session) OpenSFTP() (*sftp.Client, func(), error) {
	release, err := s.acquireChannel()
	if err != nil {
		return nil, nil, err
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		release()
		s.markStale(fmt.Sprintf("open sftp channel: %v", err))
		return nil, nil, &ConnectionLostError{Err: fmt.Errorf("open sftp channel on %s: %w", s.ID, err)}
	}
	return client, release, nil
}

// markStale reports a transport-level failure to the registry so the dead
// session is removed. Safe to call multiple times; only the first wins.
func (s *Session) markStale(reason string) {
	s.mu.Lock()
	already := s.closed
	s.mu.Unlock()
	if already || s.onStale == nil {
		return
	}
	s.onStale(s, reason)
}

// close tears down the transport. Called only by the registry with the
// session already removed from the map.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.keepStop != nil {
		s.keepStop()
	}
	return s.client.Close()
}
