package remotefs

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/skiff-ssh/skiff/internal/logutil"
	"github.com/skiff-ssh/skiff/internal/session"
)

// EntryKind classifies a directory entry.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "directory"
	KindSymlink EntryKind = "symlink"
	KindOther   EntryKind = "other"
)

// Entry describes one remote file system object. Path is always absolute;
// RelPath is set only by recursive listings and is relative to the
// requested root.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	RelPath     string    `json:"relPath,omitempty"`
	Kind        EntryKind `json:"kind"`
	Size        int64     `json:"size"`
	Permissions string    `json:"permissions"`
	ModTime     time.Time `json:"modTime"`
}

// SubError marks a subdirectory that could not be read during a recursive
// listing. The traversal continues past it.
type SubError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// maxListDepth bounds recursive traversal as a backstop against
// pathological nesting.
const maxListDepth = 64

// List returns the single-level contents of a remote directory, ordered by
// name.
func List(s *session.Session, remotePath string) ([]Entry, error) {
	client, release, err := s.OpenSFTP()
	if err != nil {
		return nil, err
	}
	defer release()
	defer client.Close()

	start := time.Now()
	infos, err := client.ReadDir(remotePath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", logutil.Sanitize(remotePath), err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, toEntry(fi, joinRemote(remotePath, fi.Name()), ""))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	s.Touch()
	log.Printf("[files] list %s: %d entries in %s", logutil.Sanitize(remotePath), len(entries), time.Since(start))
	return entries, nil
}

// ListRecursive walks the tree under remotePath depth-first and returns one
// flat ordered sequence of entries, each carrying its path relative to
// remotePath. Symlinks are reported but never followed, so cycles and
// links escaping the subtree cannot cause unbounded traversal. A
// subdirectory that cannot be read is recorded as a SubError and skipped;
// one unreadable subfolder never blanks out the rest of the tree.
func ListRecursive(s *session.Session, remotePath string) ([]Entry, []SubError, error) {
	client, release, err := s.OpenSFTP()
	if err != nil {
		return nil, nil, err
	}
	defer release()
	defer client.Close()

	start := time.Now()
	// The root itself must be readable; only subdirectories degrade to
	// partial results.
	if _, err := client.ReadDir(remotePath); err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", logutil.Sanitize(remotePath), err)
	}

	var entries []Entry
	var subErrs []SubError
	walk(client, remotePath, "", 0, &entries, &subErrs)

	s.Touch()
	log.Printf("[files] recursive list %s: %d entries, %d sub-errors in %s",
		logutil.Sanitize(remotePath), len(entries), len(subErrs), time.Since(start))
	return entries, subErrs, nil
}

// walk appends the entries under dir (absolute) to out, depth-first. rel is
// dir's path relative to the traversal root.
func walk(client *sftp.Client, dir, rel string, depth int, out *[]Entry, subErrs *[]SubError) {
	if depth > maxListDepth {
		*subErrs = append(*subErrs, SubError{Path: dir, Err: "max traversal depth exceeded"})
		return
	}

	infos, err := client.ReadDir(dir)
	if err != nil {
		*subErrs = append(*subErrs, SubError{Path: dir, Err: err.Error()})
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, fi := range infos {
		abs := joinRemote(dir, fi.Name())
		childRel := fi.Name()
		if rel != "" {
			childRel = rel + "/" + fi.Name()
		}
		entry := toEntry(fi, abs, childRel)
		*out = append(*out, entry)

		// Descend into real directories only. Symlinked directories are
		// listed as symlinks and never entered.
		if fi.IsDir() && fi.Mode()&os.ModeSymlink == 0 {
			walk(client, abs, childRel, depth+1, out, subErrs)
		}
	}
}

func toEntry(fi os.FileInfo, abs, rel string) Entry {
	return Entry{
		Name:        fi.Name(),
		Path:        abs,
		RelPath:     rel,
		Kind:        kindOf(fi),
		Size:        fi.Size(),
		Permissions: fi.Mode().Perm().String(),
		ModTime:     fi.ModTime(),
	}
}

func kindOf(fi os.FileInfo) EntryKind {
	mode := fi.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// joinRemote joins remote path segments with forward slashes regardless of
// the local OS.
func joinRemote(base, name string) string {
	if base == "" || base == "/" {
		return "/" + strings.TrimPrefix(name, "/")
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}
