package remotefs

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/skiff-ssh/skiff/internal/logutil"
	"github.com/skiff-ssh/skiff/internal/session"
)

// DefaultChunkSize is the transfer chunk size when none is configured.
const DefaultChunkSize = 32 * 1024

// ProgressFunc receives the running byte count after each chunk. total is
// the size of the source when known, -1 otherwise.
type ProgressFunc func(transferred, total int64)

// TransferOptions tunes one upload or download.
type TransferOptions struct {
	// ChunkSize bounds the in-memory buffer per transfer. Zero selects
	// DefaultChunkSize.
	ChunkSize int
	// Progress, when set, is invoked after every chunk.
	Progress ProgressFunc
	// Atomic writes to a temporary sibling path and renames on success, so
	// the destination never holds a partial file. Off by default: the
	// engine's base contract allows partial writes on cancellation.
	Atomic bool
}

// TransferSummary reports a completed transfer.
type TransferSummary struct {
	Direction  string        `json:"direction"`
	LocalPath  string        `json:"localPath"`
	RemotePath string        `json:"remotePath"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// Upload copies a local file to the remote host in bounded chunks over a
// dedicated SFTP channel. Cancellation is observed between chunks; the
// remote destination keeps whatever was written so far unless Atomic is
// set. Failures return a *session.TransferError carrying bytes completed.
func Upload(ctx context.Context, s *session.Session, localPath, remotePath string, opts TransferOptions) (*TransferSummary, error) {
	start := time.Now()
	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	total := int64(-1)
	if fi, err := src.Stat(); err == nil {
		total = fi.Size()
	}

	client, release, err := s.OpenSFTP()
	if err != nil {
		return nil, err
	}
	defer release()
	defer client.Close()

	target := remotePath
	if opts.Atomic {
		target = remotePath + ".partial"
	}
	dst, err := client.Create(target)
	if err != nil {
		return nil, &session.TransferError{Direction: "upload", Err: fmt.Errorf("create remote file: %w", err)}
	}

	written, copyErr := copyChunks(ctx, dst, src, opts, total)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		if opts.Atomic {
			// Best effort: the temp file must not outlive a failed transfer.
			client.Remove(target)
		}
		err := copyErr
		if err == nil {
			err = closeErr
		}
		return nil, &session.TransferError{Direction: "upload", BytesCompleted: written, Err: err}
	}
	if opts.Atomic {
		if err := client.PosixRename(target, remotePath); err != nil {
			client.Remove(target)
			return nil, &session.TransferError{Direction: "upload", BytesCompleted: written, Err: fmt.Errorf("rename into place: %w", err)}
		}
	}

	s.Touch()
	return summarize("upload", localPath, remotePath, written, time.Since(start)), nil
}

// Download copies a remote file to the local file system in bounded chunks
// over a dedicated SFTP channel. Semantics mirror Upload.
func Download(ctx context.Context, s *session.Session, remotePath, localPath string, opts TransferOptions) (*TransferSummary, error) {
	start := time.Now()
	client, release, err := s.OpenSFTP()
	if err != nil {
		return nil, err
	}
	defer release()
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return nil, &session.TransferError{Direction: "download", Err: fmt.Errorf("open remote file: %w", err)}
	}
	defer src.Close()

	total := int64(-1)
	if fi, err := src.Stat(); err == nil {
		total = fi.Size()
	}

	target := localPath
	if opts.Atomic {
		target = localPath + ".partial"
	}
	dst, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create local file: %w", err)
	}

	written, copyErr := copyChunks(ctx, dst, src, opts, total)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		if opts.Atomic {
			os.Remove(target)
		}
		err := copyErr
		if err == nil {
			err = closeErr
		}
		return nil, &session.TransferError{Direction: "download", BytesCompleted: written, Err: err}
	}
	if opts.Atomic {
		if err := os.Rename(target, localPath); err != nil {
			os.Remove(target)
			return nil, &session.TransferError{Direction: "download", BytesCompleted: written, Err: fmt.Errorf("rename into place: %w", err)}
		}
	}

	s.Touch()
	return summarize("download", localPath, remotePath, written, time.Since(start)), nil
}

// copyChunks streams src into dst one chunk at a time. Cancellation is
// checked only at chunk boundaries, so the reported count is always a
// boundary the caller could resume from.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, opts TransferOptions, total int64) (int64, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("write chunk: %w", writeErr)
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
			if opts.Progress != nil {
				opts.Progress(written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read chunk: %w", readErr)
		}
	}
}

func summarize(direction, localPath, remotePath string, bytes int64, elapsed time.Duration) *TransferSummary {
	log.Printf("[files] %s %s <-> %s: %d bytes in %s", direction,
		logutil.Sanitize(localPath), logutil.Sanitize(remotePath), bytes, elapsed)
	return &TransferSummary{
		Direction:  direction,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      bytes,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
}
