package remotefs

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/skiff-ssh/skiff/internal/session"
	"github.com/skiff-ssh/skiff/internal/sshtest"
)

// The test server serves sftp against the local file system, so "remote"
// paths point into temp directories on this machine.
func liveSession(t *testing.T) *session.Session {
	t.Helper()
	srv, err := sshtest.Start()
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(srv.Close)

	r := session.NewRegistry(session.Options{})
	t.Cleanup(func() { r.CloseAll() })

	id, err := r.Connect(context.Background(), session.ConnectOptions{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: sshtest.User,
		Password: sshtest.Password,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return s
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSingleLevel(t *testing.T) {
	s := liveSession(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), []byte("bb"))
	writeFile(t, filepath.Join(root, "a.txt"), []byte("a"))
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := List(s, root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Ordered by name.
	names := []string{entries[0].Name, entries[1].Name, entries[2].Name}
	want := []string{"a.txt", "b.txt", "sub"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
	if entries[0].Kind != KindFile || entries[0].Size != 1 {
		t.Errorf("a.txt entry wrong: %+v", entries[0])
	}
	if entries[2].Kind != KindDir {
		t.Errorf("sub should be a directory, got %s", entries[2].Kind)
	}
	if entries[0].Path != filepath.ToSlash(filepath.Join(root, "a.txt")) {
		t.Errorf("path = %q", entries[0].Path)
	}
}

func TestListMissingDirectory(t *testing.T) {
	s := liveSession(t)
	if _, err := List(s, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("listing a missing directory should fail")
	}
}

func TestListRecursive(t *testing.T) {
	s := liveSession(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.txt"), []byte("x"))
	if err := os.MkdirAll(filepath.Join(root, "a", "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "a", "inner.txt"), []byte("y"))
	writeFile(t, filepath.Join(root, "a", "deep", "leaf.txt"), []byte("z"))

	entries, subErrs, err := ListRecursive(s, root)
	if err != nil {
		t.Fatalf("recursive list: %v", err)
	}
	if len(subErrs) != 0 {
		t.Fatalf("unexpected sub-errors: %v", subErrs)
	}

	rels := make([]string, len(entries))
	for i, e := range entries {
		rels[i] = e.RelPath
	}
	// Depth-first, siblings ordered by name, children right after their
	// parent directory.
	want := []string{"a", "a/deep", "a/deep/leaf.txt", "a/inner.txt", "top.txt"}
	if len(rels) != len(want) {
		t.Fatalf("got %v, want %v", rels, want)
	}
	for i := range want {
		if rels[i] != want[i] {
			t.Errorf("entry %d rel = %q, want %q", i, rels[i], want[i])
		}
	}
}

func TestListRecursivePartialOnUnreadableSubdir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	s := liveSession(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.txt"), []byte("fine"))
	locked := filepath.Join(root, "locked")
	if err := os.Mkdir(locked, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(locked, "hidden.txt"), []byte("no"))
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	entries, subErrs, err := ListRecursive(s, root)
	if err != nil {
		t.Fatalf("one unreadable subfolder must not fail the whole listing: %v", err)
	}
	if len(subErrs) != 1 {
		t.Fatalf("expected exactly 1 sub-error, got %v", subErrs)
	}
	var sawOK, sawLocked, sawHidden bool
	for _, e := range entries {
		switch e.RelPath {
		case "ok.txt":
			sawOK = true
		case "locked":
			sawLocked = true
		case "locked/hidden.txt":
			sawHidden = true
		}
	}
	if !sawOK || !sawLocked {
		t.Errorf("partial results missing expected entries: %v", entries)
	}
	if sawHidden {
		t.Error("contents of the unreadable directory should not appear")
	}
}

func TestListRecursiveDoesNotFollowSymlinks(t *testing.T) {
	s := liveSession(t)
	root := t.TempDir()
	real := filepath.Join(root, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(real, "file.txt"), []byte("data"))
	if err := os.Symlink(real, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	entries, _, err := ListRecursive(s, root)
	if err != nil {
		t.Fatalf("recursive list: %v", err)
	}
	for _, e := range entries {
		if e.RelPath == "link" && e.Kind != KindSymlink {
			t.Errorf("link reported as %s, want symlink", e.Kind)
		}
		if e.RelPath == "link/file.txt" {
			t.Error("traversal descended through a symlink")
		}
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := liveSession(t)
	local := t.TempDir()
	remote := t.TempDir()

	sizes := []int{0, 1, 100, 3*DefaultChunkSize + 17}
	for _, size := range sizes {
		data := make([]byte, size)
		rand.Read(data)

		up := filepath.Join(local, "up.bin")
		writeFile(t, up, data)
		remotePath := filepath.Join(remote, "stored.bin")

		sum, err := Upload(context.Background(), s, up, remotePath, TransferOptions{})
		if err != nil {
			t.Fatalf("upload %d bytes: %v", size, err)
		}
		if sum.Bytes != int64(size) {
			t.Errorf("upload reported %d bytes, want %d", sum.Bytes, size)
		}

		down := filepath.Join(local, "down.bin")
		sum, err = Download(context.Background(), s, remotePath, down, TransferOptions{})
		if err != nil {
			t.Fatalf("download %d bytes: %v", size, err)
		}
		if sum.Bytes != int64(size) {
			t.Errorf("download reported %d bytes, want %d", sum.Bytes, size)
		}

		got, err := os.ReadFile(down)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip of %d bytes corrupted the payload", size)
		}
	}
}

func TestUploadSmallChunks(t *testing.T) {
	s := liveSession(t)
	local := t.TempDir()
	remote := t.TempDir()

	data := []byte("chunked payload crossing several tiny chunks")
	src := filepath.Join(local, "src.bin")
	writeFile(t, src, data)
	dst := filepath.Join(remote, "dst.bin")

	var calls int
	var last int64
	opts := TransferOptions{
		ChunkSize: 8,
		Progress: func(transferred, total int64) {
			calls++
			if transferred < last {
				t.Errorf("progress went backwards: %d after %d", transferred, last)
			}
			last = transferred
			if total != int64(len(data)) {
				t.Errorf("total = %d, want %d", total, len(data))
			}
		},
	}
	if _, err := Upload(context.Background(), s, src, dst, opts); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if calls < len(data)/8 {
		t.Errorf("expected at least %d progress calls, got %d", len(data)/8, calls)
	}
	if last != int64(len(data)) {
		t.Errorf("final progress = %d, want %d", last, len(data))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("payload corrupted")
	}
}

func TestUploadCancelled(t *testing.T) {
	s := liveSession(t)
	local := t.TempDir()
	remote := t.TempDir()

	src := filepath.Join(local, "src.bin")
	writeFile(t, src, make([]byte, 4096))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Upload(ctx, s, src, filepath.Join(remote, "dst.bin"), TransferOptions{})
	var transferErr *session.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected *session.TransferError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if transferErr.Direction != "upload" {
		t.Errorf("direction = %q", transferErr.Direction)
	}
}

func TestDownloadMissingRemoteFile(t *testing.T) {
	s := liveSession(t)
	_, err := Download(context.Background(), s, filepath.Join(t.TempDir(), "absent.bin"),
		filepath.Join(t.TempDir(), "out.bin"), TransferOptions{})
	var transferErr *session.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected *session.TransferError, got %v", err)
	}
}

func TestUploadAtomicFailureRemovesPartial(t *testing.T) {
	s := liveSession(t)
	local := t.TempDir()
	remote := t.TempDir()

	src := filepath.Join(local, "src.bin")
	writeFile(t, src, make([]byte, 4096))
	dst := filepath.Join(remote, "dst.bin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Upload(ctx, s, src, dst, TransferOptions{Atomic: true})
	var transferErr *session.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected *session.TransferError, got %v", err)
	}
	if _, err := os.Stat(dst + ".partial"); !os.IsNotExist(err) {
		t.Error("failed atomic upload left its .partial file behind")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("failed atomic upload must not create the destination")
	}
}

func TestUploadAtomicLeavesNoPartial(t *testing.T) {
	s := liveSession(t)
	local := t.TempDir()
	remote := t.TempDir()

	data := []byte("atomic payload")
	src := filepath.Join(local, "src.bin")
	writeFile(t, src, data)
	dst := filepath.Join(remote, "dst.bin")

	if _, err := Upload(context.Background(), s, src, dst, TransferOptions{Atomic: true}); err != nil {
		t.Fatalf("atomic upload: %v", err)
	}
	if _, err := os.Stat(dst + ".partial"); !os.IsNotExist(err) {
		t.Error("temporary .partial file left behind")
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("payload corrupted")
	}
}
