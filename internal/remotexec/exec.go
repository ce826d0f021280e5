// Package remotexec runs commands on remote hosts over established
// sessions. Each call opens one channel, streams output incrementally, and
// reports the remote exit status.
package remotexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/skiff-ssh/skiff/internal/logutil"
	"github.com/skiff-ssh/skiff/internal/session"
)

// Options tunes a single execution.
type Options struct {
	// Timeout bounds the whole execution. Zero means no timeout. On expiry
	// the channel is force-closed and a *session.TimeoutError is returned;
	// the remote process is NOT guaranteed to be killed (the protocol has
	// no reliable cross-server signal delivery).
	Timeout time.Duration
	// Stdout and Stderr, when set, receive output incrementally as it
	// arrives, so arbitrarily large output need not be buffered in full.
	// The Result still carries the buffered copy.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one completed command.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"-"`
}

// DurationMs reports the execution time in milliseconds for the envelope.
func (r *Result) DurationMs() int64 { return r.Duration.Milliseconds() }

// syncWriter serializes the stdout and stderr relay goroutines behind one
// shared mutex, so a caller may pass the same writer for both streams.
type syncWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Execute runs command on the session, waiting for the remote exit status.
// Concurrent Execute calls against the same session each get their own
// channel; completion order between them is unspecified.
func Execute(ctx context.Context, s *session.Session, command string, opts Options) (*Result, error) {
	start := time.Now()

	ch, release, err := s.OpenSession()
	if err != nil {
		return nil, err
	}
	defer release()
	defer ch.Close()

	var outBuf, errBuf bytes.Buffer
	stdout := io.Writer(&outBuf)
	stderr := io.Writer(&errBuf)
	if opts.Stdout != nil {
		stdout = io.MultiWriter(&outBuf, opts.Stdout)
	}
	if opts.Stderr != nil {
		stderr = io.MultiWriter(&errBuf, opts.Stderr)
	}
	var relayMu sync.Mutex
	ch.Stdout = &syncWriter{mu: &relayMu, w: stdout}
	ch.Stderr = &syncWriter{mu: &relayMu, w: stderr}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := ch.Start(command); err != nil {
		return nil, &session.ConnectionLostError{Err: fmt.Errorf("start command: %w", err)}
	}

	done := make(chan error, 1)
	go func() { done <- ch.Wait() }()

	select {
	case <-ctx.Done():
		// Force the channel closed; Wait unblocks with an error we discard.
		ch.Close()
		<-done
		elapsed := time.Since(start)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &session.TimeoutError{Op: "execute", Elapsed: elapsed.Round(time.Millisecond).String()}
		}
		return nil, fmt.Errorf("execute cancelled: %w", ctx.Err())
	case waitErr := <-done:
		elapsed := time.Since(start)
		s.Touch()

		result := &Result{
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String(),
			Duration: elapsed,
		}
		if waitErr != nil {
			if exitErr, ok := waitErr.(*ssh.ExitError); ok {
				result.ExitCode = exitErr.ExitStatus()
			} else {
				return nil, &session.ConnectionLostError{Err: fmt.Errorf("command interrupted: %w", waitErr)}
			}
		}

		if elapsed > 500*time.Millisecond {
			log.Printf("[exec] SLOW command (%s): %s", elapsed, logutil.Truncate(logutil.Sanitize(command), 80))
		}
		return result, nil
	}
}
