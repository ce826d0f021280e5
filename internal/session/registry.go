package session

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/skiff-ssh/skiff/internal/logutil"
)

// Defaults for registry options.
const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultKeepaliveMaxMiss  = 3
	DefaultConnectTimeout    = 15 * time.Second
)

// Options configures a Registry.
type Options struct {
	// KeepaliveInterval is how often each session is probed.
	KeepaliveInterval time.Duration
	// KeepaliveMaxMiss is how many consecutive failed probes are tolerated
	// before the session is force-closed.
	KeepaliveMaxMiss int
	// ConnectTimeout bounds the TCP dial and SSH handshake.
	ConnectTimeout time.Duration
	// MaxSessions caps the number of registered sessions. Zero or less
	// means unlimited.
	MaxSessions int
	// MaxChannelsPerSession caps concurrent channels per session. Zero or
	// less means unlimited.
	MaxChannelsPerSession int
	// RateLimit configures the connect rate limiter. The zero value is
	// replaced by DefaultRateLimitConfig.
	RateLimit RateLimitConfig
}

// ConnectOptions carries the already-validated parameters for opening a new
// session. Exactly one of Password or PrivateKey must be set; the validate
// package enforces this before requests reach the registry.
type ConnectOptions struct {
	Host     string
	Port     int
	Username string
	// Password for password authentication.
	Password string
	// PrivateKey is PEM-encoded private key material for key authentication.
	PrivateKey []byte
	// Passphrase decrypts PrivateKey when it is encrypted.
	Passphrase string
}

// Summary is a point-in-time snapshot of one registered session.
type Summary struct {
	ID             string    `json:"identifier"`
	Host           string    `json:"host"`
	Port           int       `json:"port"`
	Username       string    `json:"username"`
	ConnectedSince time.Time `json:"connectedSince"`
	LastActivity   time.Time `json:"lastActivity"`
	State          State     `json:"state"`
}

// Registry is the single authority for session creation, lookup, and
// teardown. All mutation of the identifier map is atomic with respect to
// concurrent lookups, and no method holds the registry mutex across
// network I/O.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
	shutdown bool

	tracker *stateTracker
	events  *eventLog
	limiter *rateLimiter
}

// NewRegistry creates a Registry with the given options, applying defaults
// for zero-valued fields.
func NewRegistry(opts Options) *Registry {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.KeepaliveMaxMiss <= 0 {
		opts.KeepaliveMaxMiss = DefaultKeepaliveMaxMiss
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RateLimit == (RateLimitConfig{}) {
		opts.RateLimit = DefaultRateLimitConfig()
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		tracker:  newStateTracker(),
		events:   newEventLog(),
		limiter:  newRateLimiter(opts.RateLimit),
	}
}

// Connect dials the remote host, performs the SSH handshake, starts the
// keepalive probe loop, and registers the session under a freshly minted
// identifier. It never retries; retry policy belongs to the caller.
//
// Failures are typed: *AuthError on credential rejection, *NetworkError on
// an unreachable host or pre-handshake timeout, *ProtocolError on handshake
// failure.
func (r *Registry) Connect(ctx context.Context, opts ConnectOptions) (string, error) {
	r.mu.RLock()
	count := len(r.sessions)
	shutdown := r.shutdown
	r.mu.RUnlock()
	if shutdown {
		return "", fmt.Errorf("connect: registry is shut down")
	}
	if r.opts.MaxSessions > 0 && count >= r.opts.MaxSessions {
		return "", fmt.Errorf("connect: %w (%d)", ErrTooManySessions, r.opts.MaxSessions)
	}

	if err := r.limiter.allow(opts.Host); err != nil {
		r.events.emit("-", EventRateLimited, err.Error())
		return "", fmt.Errorf("connect: %w", err)
	}

	auth, err := buildAuth(opts)
	if err != nil {
		return "", err
	}

	cfg := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.opts.ConnectTimeout,
	}

	id := uuid.NewString()
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	r.tracker.set(id, StateConnecting, fmt.Sprintf("connecting to %s", logutil.Sanitize(addr)))

	dialer := net.Dialer{Timeout: r.opts.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.limiter.recordFailure(opts.Host)
		r.tracker.set(id, StateClosed, fmt.Sprintf("dial failed: %v", err))
		return "", &NetworkError{Err: fmt.Errorf("dial %s: %w", logutil.Sanitize(addr), err)}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		r.limiter.recordFailure(opts.Host)
		r.tracker.set(id, StateClosed, fmt.Sprintf("handshake failed: %v", err))
		if isAuthFailure(err) {
			return "", &AuthError{Err: fmt.Errorf("handshake with %s: %w", logutil.Sanitize(addr), err)}
		}
		return "", &ProtocolError{Err: fmt.Errorf("handshake with %s: %w", logutil.Sanitize(addr), err)}
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	var slots chan struct{}
	if r.opts.MaxChannelsPerSession > 0 {
		slots = make(chan struct{}, r.opts.MaxChannelsPerSession)
	}

	keepCtx, keepCancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		ID:           id,
		Host:         opts.Host,
		Port:         opts.Port,
		Username:     opts.Username,
		CreatedAt:    now,
		client:       client,
		keepStop:     keepCancel,
		chanSlots:    slots,
		lastActivity: now,
		tracker:      r.tracker,
	}
	s.onStale = func(sess *Session, reason string) { r.forceClose(sess.ID, reason) }

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		keepCancel()
		client.Close()
		return "", fmt.Errorf("connect: registry is shut down")
	}
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		keepCancel()
		client.Close()
		return "", fmt.Errorf("connect: %w (%d)", ErrTooManySessions, r.opts.MaxSessions)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go r.keepalive(keepCtx, s)

	r.limiter.recordSuccess(opts.Host)
	r.tracker.set(id, StateReady, fmt.Sprintf("connected to %s", logutil.Sanitize(addr)))
	r.events.emit(id, EventConnected, fmt.Sprintf("%s@%s", logutil.Sanitize(opts.Username), logutil.Sanitize(addr)))
	log.Printf("[session] %s connected to %s", id, logutil.Sanitize(addr))
	return id, nil
}

// Lookup resolves an identifier to its live session in O(1).
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// Disconnect stops the keepalive loop, closes the transport (forcing any
// open channels to fail), and removes the entry. Disconnecting an absent
// identifier reports ErrNotFound; repeating a disconnect is safe.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("disconnect %q: %w", id, ErrNotFound)
	}

	r.tracker.set(id, StateClosing, "disconnect requested")
	err := s.close()
	r.tracker.set(id, StateClosed, "disconnected")
	r.events.emit(id, EventDisconnected, "disconnect requested")
	log.Printf("[session] %s disconnected", id)
	if err != nil {
		return fmt.Errorf("disconnect %q: close transport: %w", id, err)
	}
	return nil
}

// List returns a snapshot of all registered sessions ordered by connection
// time, then identifier.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Summary{
			ID:             s.ID,
			Host:           s.Host,
			Port:           s.Port,
			Username:       s.Username,
			ConnectedSince: s.CreatedAt,
			LastActivity:   s.LastActivity(),
			State:          s.State(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedSince.Equal(out[j].ConnectedSince) {
			return out[i].ConnectedSince.Before(out[j].ConnectedSince)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Events returns the recent lifecycle events for the given session.
func (r *Registry) Events(id string) []Event {
	return r.events.get(id)
}

// History returns the recorded state transitions for the given session.
func (r *Registry) History(id string) []Transition {
	return r.tracker.history(id)
}

// OnStateChange registers a callback fired on every session state change.
func (r *Registry) OnStateChange(cb StateCallback) {
	r.tracker.onChange(cb)
}

// SweepIdle disconnects sessions whose last activity is older than
// maxIdle. Returns the number of sessions closed. A maxIdle of zero
// disables sweeping.
func (r *Registry) SweepIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.forceClose(id, fmt.Sprintf("idle for more than %s", maxIdle))
	}
	return len(stale)
}

// PruneHistory drops event and transition history for sessions that are no
// longer registered. Returns the number of histories removed.
func (r *Registry) PruneHistory() int {
	r.mu.RLock()
	live := make(map[string]struct{}, len(r.sessions))
	for id := range r.sessions {
		live[id] = struct{}{}
	}
	r.mu.RUnlock()
	return r.events.prune(live)
}

// CloseAll tears down every session and marks the registry unusable. Used
// during shutdown. Returns the first error encountered, if any.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.shutdown = true
	r.mu.Unlock()

	var firstErr error
	for id, s := range sessions {
		r.tracker.set(id, StateClosing, "shutdown")
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %s: %w", id, err)
		}
		r.tracker.set(id, StateClosed, "shutdown")
	}
	if len(sessions) > 0 {
		log.Printf("[session] closed all %d session(s)", len(sessions))
	}
	return firstErr
}

// forceClose removes a session that died or overstayed and closes its
// transport. In-flight channels fail from their own I/O errors.
func (r *Registry) forceClose(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.tracker.set(id, StateError, reason)
	s.close()
	r.tracker.set(id, StateClosed, reason)
	r.events.emit(id, EventDisconnected, reason)
	log.Printf("[session] %s force-closed: %s", id, logutil.Sanitize(reason))
}

// keepalive probes the session until it is closed or found dead. A probe is
// a global request with want-reply, answered by any SSH peer. After
// KeepaliveMaxMiss consecutive failures the session is force-closed.
func (r *Registry) keepalive(ctx context.Context, s *Session) {
	ticker := time.NewTicker(r.opts.KeepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.probe(ctx, s)
			if err == nil {
				missed = 0
				s.Touch()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			missed++
			r.events.emit(s.ID, EventKeepaliveMissed, fmt.Sprintf("probe %d/%d failed: %v", missed, r.opts.KeepaliveMaxMiss, err))
			if missed >= r.opts.KeepaliveMaxMiss {
				r.events.emit(s.ID, EventKeepaliveDead, fmt.Sprintf("unresponsive after %d probes", missed))
				r.forceClose(s.ID, fmt.Sprintf("keepalive: unresponsive after %d probes", missed))
				return
			}
		}
	}
}

// probe sends one keepalive request and bounds the wait to one interval. A
// peer whose TCP connection is up but that never answers global requests
// would otherwise block SendRequest indefinitely and a dead session would
// never be noticed. The in-flight request goroutine unblocks when the
// transport is eventually closed.
func (r *Registry) probe(ctx context.Context, s *Session) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	timer := time.NewTimer(r.opts.KeepaliveInterval)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("no probe reply within %s", r.opts.KeepaliveInterval)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildAuth translates ConnectOptions into SSH auth methods.
func buildAuth(opts ConnectOptions) ([]ssh.AuthMethod, error) {
	if len(opts.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if opts.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(opts.PrivateKey, []byte(opts.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(opts.PrivateKey)
		}
		if err != nil {
			return nil, &AuthError{Err: fmt.Errorf("parse private key: %w", err)}
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(opts.Password)}, nil
}

// isAuthFailure distinguishes credential rejection from other handshake
// failures. x/crypto/ssh reports both through the handshake error, so the
// message is the only signal available.
func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
