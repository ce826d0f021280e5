// Package validate checks the shape of every parameterized operation request
// before it reaches a live session. Validators are pure: they inspect a
// request struct and return an ordered list of human-readable reasons, empty
// when the request is acceptable. Parameterless reads (list connections,
// list profiles) are deliberately exempt and have no validator here.
package validate

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
)

// AuthType selects the authentication method of a connect request.
type AuthType string

const (
	AuthPassword   AuthType = "password"
	AuthPrivateKey AuthType = "key"
)

// ConnectRequest carries the parameters for opening a new session.
type ConnectRequest struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Username   string   `json:"username"`
	AuthType   AuthType `json:"authType"`
	Password   string   `json:"password,omitempty"`
	PrivateKey string   `json:"privateKey,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
}

// ExecRequest carries the parameters for a remote command execution.
type ExecRequest struct {
	ID        string `json:"identifier"`
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ListRequest carries the parameters for a directory listing.
type ListRequest struct {
	ID         string `json:"identifier"`
	RemotePath string `json:"remotePath"`
}

// TransferRequest carries the parameters for an upload or download.
type TransferRequest struct {
	ID         string `json:"identifier"`
	RemotePath string `json:"remotePath"`
	LocalPath  string `json:"localPath"`
}

// identifierRe matches the UUID form minted by the session registry.
var identifierRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// hostnameRe is the RFC 1123 label grammar joined by dots.
var hostnameRe = regexp.MustCompile(`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])(\.([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9]))*$`)

// Connect validates a connect request. Exactly one authentication method
// must be supplied: a password, or a private key with an optional passphrase.
func Connect(r ConnectRequest) []string {
	var reasons []string

	if strings.TrimSpace(r.Host) == "" {
		reasons = append(reasons, "host must not be empty")
	} else if !validHost(r.Host) {
		reasons = append(reasons, fmt.Sprintf("host %q is not a valid hostname or IP address", r.Host))
	}

	if r.Port < 1 || r.Port > 65535 {
		reasons = append(reasons, fmt.Sprintf("port %d is outside the range 1-65535", r.Port))
	}

	if strings.TrimSpace(r.Username) == "" {
		reasons = append(reasons, "username must not be empty")
	}

	switch r.AuthType {
	case AuthPassword:
		if r.Password == "" {
			reasons = append(reasons, "password auth selected but no password supplied")
		}
		if r.PrivateKey != "" {
			reasons = append(reasons, "password auth selected but a private key was also supplied")
		}
	case AuthPrivateKey:
		if r.PrivateKey == "" {
			reasons = append(reasons, "key auth selected but no private key supplied")
		}
		if r.Password != "" {
			reasons = append(reasons, "key auth selected but a password was also supplied")
		}
	default:
		reasons = append(reasons, fmt.Sprintf("authType must be %q or %q", AuthPassword, AuthPrivateKey))
	}

	return reasons
}

// Exec validates a command execution request.
func Exec(r ExecRequest) []string {
	var reasons []string
	reasons = append(reasons, Identifier(r.ID)...)
	if strings.TrimSpace(r.Command) == "" {
		reasons = append(reasons, "command must not be empty")
	}
	if r.TimeoutMs < 0 {
		reasons = append(reasons, "timeoutMs must not be negative")
	}
	return reasons
}

// List validates a directory listing request.
func List(r ListRequest) []string {
	var reasons []string
	reasons = append(reasons, Identifier(r.ID)...)
	if strings.TrimSpace(r.RemotePath) == "" {
		reasons = append(reasons, "remotePath must not be empty")
	}
	return reasons
}

// Transfer validates an upload/download request. localRoots, when non-empty,
// confines the local path to the given directory trees.
func Transfer(r TransferRequest, localRoots []string) []string {
	var reasons []string
	reasons = append(reasons, Identifier(r.ID)...)
	if strings.TrimSpace(r.RemotePath) == "" {
		reasons = append(reasons, "remotePath must not be empty")
	}
	if strings.TrimSpace(r.LocalPath) == "" {
		reasons = append(reasons, "localPath must not be empty")
	} else if err := LocalPathAllowed(r.LocalPath, localRoots); err != nil {
		reasons = append(reasons, err.Error())
	}
	return reasons
}

// Identifier validates the format of a connection identifier.
func Identifier(id string) []string {
	if id == "" {
		return []string{"identifier must not be empty"}
	}
	if !identifierRe.MatchString(id) {
		return []string{fmt.Sprintf("identifier %q is not in the expected format", id)}
	}
	return nil
}

// LocalPathAllowed reports whether path resolves inside one of the allowed
// roots. An empty root list allows everything. The check runs on the
// lexically cleaned absolute path so ".." segments cannot escape a root.
func LocalPathAllowed(path string, roots []string) error {
	if len(roots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("localPath %q cannot be resolved", path)
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("localPath %q is outside the allowed directories", path)
}

// Profile validates the shape of a stored connection profile.
func Profile(name, host string, port int, username string, authType AuthType) []string {
	var reasons []string
	if strings.TrimSpace(name) == "" {
		reasons = append(reasons, "profile name must not be empty")
	}
	// Shape check only; credential presence is checked at connect time,
	// so placeholder material satisfies the XOR rule here.
	req := ConnectRequest{Host: host, Port: port, Username: username, AuthType: authType}
	switch authType {
	case AuthPassword:
		req.Password = "-"
	case AuthPrivateKey:
		req.PrivateKey = "-"
	}
	reasons = append(reasons, Connect(req)...)
	return reasons
}

// Bookmark validates the shape of a stored bookmark.
func Bookmark(name, remotePath string) []string {
	var reasons []string
	if strings.TrimSpace(name) == "" {
		reasons = append(reasons, "bookmark name must not be empty")
	}
	if strings.TrimSpace(remotePath) == "" {
		reasons = append(reasons, "bookmark remotePath must not be empty")
	}
	return reasons
}

func validHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return true
	}
	return len(host) <= 253 && hostnameRe.MatchString(host)
}
