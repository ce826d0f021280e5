// Package sshtest runs a minimal in-process SSH server for package tests.
// It speaks just enough of the protocol for the session, exec, and file
// packages: password and public-key auth, exec requests with a tiny canned
// command set, the sftp subsystem served against the local file system,
// and keepalive replies.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Credentials accepted by the server.
const (
	User     = "skiff"
	Password = "secret"
)

// Server is an in-process SSH server bound to 127.0.0.1.
type Server struct {
	Host string
	Port int
	// ClientKeyPEM is a PEM-encoded private key whose public half the
	// server accepts for key authentication.
	ClientKeyPEM []byte

	listener net.Listener

	mu        sync.Mutex
	conns     []net.Conn
	done      bool
	blackhole bool
}

// Start launches a server. Callers must Close it.
func Start() (*Server, error) {
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		return nil, fmt.Errorf("host signer: %w", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}
	clientSSHPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		return nil, fmt.Errorf("client public key: %w", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		return nil, fmt.Errorf("marshal client key: %w", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == User && string(pass) == Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong credentials")
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientSSHPub.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := &Server{
		Host:         host,
		Port:         port,
		ClientKeyPEM: pem.EncodeToMemory(pemBlock),
		listener:     listener,
	}
	go s.acceptLoop(cfg)
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Close stops the listener and all live connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.done = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	s.listener.Close()
	for _, c := range conns {
		c.Close()
	}
}

// BlackholeRequests makes the server swallow global requests without ever
// replying, while the TCP connection stays up. Simulates a peer that hangs
// instead of answering keepalive probes.
func (s *Server) BlackholeRequests() {
	s.mu.Lock()
	s.blackhole = true
	s.mu.Unlock()
}

func (s *Server) swallowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blackhole
}

// DropConnections abruptly closes every live connection while keeping the
// listener up. Used to simulate a peer that stops responding to probes.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) acceptLoop(cfg *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn, cfg)
	}
}

func (s *Server) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	srvConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer srvConn.Close()

	// Answer global requests (keepalive probes) affirmatively, unless the
	// server has been told to swallow them.
	go func() {
		for req := range reqs {
			if req.WantReply && !s.swallowing() {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, chReqs)
	}
}

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			status := runCommand(ch, msg.Command)
			ch.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: status}))
			return
		case "subsystem":
			var msg struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			serveSFTP(ch)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runCommand interprets the canned command language used by the tests:
//
//	echo <text>    write text+newline to stdout, exit 0
//	err <text>     write text+newline to stderr, exit 0
//	both <text>    write to stdout and stderr, exit 0
//	exit <n>       exit with status n
//	sleep <sec>    sleep, then exit 0
func runCommand(ch ssh.Channel, command string) uint32 {
	verb, rest, _ := strings.Cut(command, " ")
	switch verb {
	case "echo":
		fmt.Fprintln(ch, rest)
		return 0
	case "err":
		fmt.Fprintln(ch.Stderr(), rest)
		return 0
	case "both":
		fmt.Fprintln(ch, rest)
		fmt.Fprintln(ch.Stderr(), rest)
		return 0
	case "exit":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 255
		}
		return uint32(n)
	case "sleep":
		sec, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return 255
		}
		time.Sleep(time.Duration(sec * float64(time.Second)))
		return 0
	default:
		fmt.Fprintf(ch.Stderr(), "unknown command: %s\n", command)
		return 127
	}
}

// serveSFTP serves the sftp subsystem against the local file system. Tests
// address absolute paths inside their own temp directories.
func serveSFTP(ch ssh.Channel) {
	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	defer server.Close()
	server.Serve()
}
