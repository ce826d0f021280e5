package validate

import (
	"path/filepath"
	"strings"
	"testing"
)

const goodID = "123e4567-e89b-42d3-a456-426614174000"

func TestConnectValid(t *testing.T) {
	reqs := []ConnectRequest{
		{Host: "example.com", Port: 22, Username: "root", AuthType: AuthPassword, Password: "pw"},
		{Host: "10.0.0.1", Port: 2222, Username: "deploy", AuthType: AuthPrivateKey, PrivateKey: "key-material"},
		{Host: "::1", Port: 22, Username: "u", AuthType: AuthPassword, Password: "x"},
	}
	for _, r := range reqs {
		if reasons := Connect(r); len(reasons) != 0 {
			t.Errorf("Connect(%+v) rejected: %v", r, reasons)
		}
	}
}

func TestConnectBothAuthMethodsRejected(t *testing.T) {
	r := ConnectRequest{
		Host: "example.com", Port: 22, Username: "root",
		AuthType: AuthPassword, Password: "pw", PrivateKey: "also-a-key",
	}
	reasons := Connect(r)
	if len(reasons) == 0 {
		t.Fatal("supplying both password and private key must be rejected")
	}
}

func TestConnectPortOutOfRange(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		r := ConnectRequest{Host: "example.com", Port: port, Username: "root", AuthType: AuthPassword, Password: "pw"}
		if reasons := Connect(r); len(reasons) == 0 {
			t.Errorf("port %d should be rejected", port)
		}
	}
}

func TestConnectEmptyFields(t *testing.T) {
	r := ConnectRequest{Port: 22, AuthType: AuthPassword, Password: "pw"}
	reasons := Connect(r)
	if len(reasons) < 2 {
		t.Fatalf("expected host and username rejections, got %v", reasons)
	}
	// Reasons are ordered: host problems come before username problems.
	if !strings.Contains(reasons[0], "host") {
		t.Errorf("first reason should mention host, got %q", reasons[0])
	}
}

func TestConnectBadHostname(t *testing.T) {
	for _, host := range []string{"bad host", "-leading.example", "a..b"} {
		r := ConnectRequest{Host: host, Port: 22, Username: "root", AuthType: AuthPassword, Password: "pw"}
		if reasons := Connect(r); len(reasons) == 0 {
			t.Errorf("host %q should be rejected", host)
		}
	}
}

func TestConnectUnknownAuthType(t *testing.T) {
	r := ConnectRequest{Host: "example.com", Port: 22, Username: "root", AuthType: "agent"}
	if reasons := Connect(r); len(reasons) == 0 {
		t.Error("unknown authType should be rejected")
	}
}

func TestExecEmptyCommand(t *testing.T) {
	reasons := Exec(ExecRequest{ID: goodID, Command: "   "})
	if len(reasons) == 0 {
		t.Fatal("empty command should be rejected")
	}
}

func TestExecValid(t *testing.T) {
	if reasons := Exec(ExecRequest{ID: goodID, Command: "ls -la"}); len(reasons) != 0 {
		t.Errorf("valid exec rejected: %v", reasons)
	}
}

func TestIdentifierFormat(t *testing.T) {
	if reasons := Identifier(goodID); len(reasons) != 0 {
		t.Errorf("valid identifier rejected: %v", reasons)
	}
	for _, id := range []string{"", "not-a-uuid", "123E4567-E89B-42D3-A456-426614174000"} {
		if reasons := Identifier(id); len(reasons) == 0 {
			t.Errorf("identifier %q should be rejected", id)
		}
	}
}

func TestListRequiresPath(t *testing.T) {
	if reasons := List(ListRequest{ID: goodID}); len(reasons) == 0 {
		t.Error("empty remotePath should be rejected")
	}
}

func TestTransferPathConfinement(t *testing.T) {
	root := t.TempDir()

	ok := TransferRequest{ID: goodID, RemotePath: "/tmp/x", LocalPath: filepath.Join(root, "file.bin")}
	if reasons := Transfer(ok, []string{root}); len(reasons) != 0 {
		t.Errorf("path inside root rejected: %v", reasons)
	}

	escape := TransferRequest{ID: goodID, RemotePath: "/tmp/x", LocalPath: filepath.Join(root, "..", "escape.bin")}
	if reasons := Transfer(escape, []string{root}); len(reasons) == 0 {
		t.Error("path escaping the root via .. should be rejected")
	}

	outside := TransferRequest{ID: goodID, RemotePath: "/tmp/x", LocalPath: "/etc/passwd"}
	if reasons := Transfer(outside, []string{root}); len(reasons) == 0 {
		t.Error("path outside the root should be rejected")
	}
}

func TestTransferNoRootsAllowsAnything(t *testing.T) {
	r := TransferRequest{ID: goodID, RemotePath: "/tmp/x", LocalPath: "/anywhere/at/all"}
	if reasons := Transfer(r, nil); len(reasons) != 0 {
		t.Errorf("unrestricted transfer rejected: %v", reasons)
	}
}

func TestProfileShape(t *testing.T) {
	if reasons := Profile("work", "example.com", 22, "root", AuthPassword); len(reasons) != 0 {
		t.Errorf("valid profile rejected: %v", reasons)
	}
	if reasons := Profile("", "example.com", 22, "root", AuthPassword); len(reasons) == 0 {
		t.Error("profile without a name should be rejected")
	}
}

func TestBookmarkShape(t *testing.T) {
	if reasons := Bookmark("logs", "/var/log"); len(reasons) != 0 {
		t.Errorf("valid bookmark rejected: %v", reasons)
	}
	if reasons := Bookmark("", ""); len(reasons) != 2 {
		t.Errorf("expected 2 reasons, got %v", reasons)
	}
}
