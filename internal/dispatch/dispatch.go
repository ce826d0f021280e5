// Package dispatch is the boundary between the UI and the session core. It
// decodes operation requests, runs them through the validators, routes
// accepted requests to the registry, executor, lister, and transfer engine,
// and answers with the uniform result envelope.
//
// Parameterless reads (connection list, profile list) bypass validation by
// design; every parameterized operation is validated before it can touch a
// live session.
package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skiff-ssh/skiff/internal/remotefs"
	"github.com/skiff-ssh/skiff/internal/remotexec"
	"github.com/skiff-ssh/skiff/internal/session"
	"github.com/skiff-ssh/skiff/internal/store"
	"github.com/skiff-ssh/skiff/internal/validate"
)

// Handlers carries the collaborators every operation needs. Construct with
// NewHandlers and mount Routes on the server mux.
type Handlers struct {
	Registry *session.Registry
	Store    *store.Store

	// LocalRoots confines local transfer paths; empty means unrestricted.
	LocalRoots []string
	// ChunkSize is the transfer chunk size handed to the engine.
	ChunkSize int
}

// NewHandlers wires the dispatcher to its collaborators.
func NewHandlers(reg *session.Registry, st *store.Store, localRoots []string, chunkSize int) *Handlers {
	return &Handlers{Registry: reg, Store: st, LocalRoots: localRoots, ChunkSize: chunkSize}
}

// Routes returns the operation surface as a chi router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/api/connect", h.Connect)
	r.Post("/api/disconnect", h.Disconnect)
	r.Get("/api/connections", h.Connections)
	r.Get("/api/connections/{id}/events", h.SessionEvents)

	r.Post("/api/exec", h.Exec)
	r.Get("/ws/exec", h.ExecStream)

	r.Post("/api/files/list", h.ListDirectory)
	r.Post("/api/files/list-recursive", h.ListDirectoryRecursive)
	r.Post("/api/files/download", h.Download)
	r.Post("/api/files/upload", h.Upload)

	r.Get("/api/profiles", h.ListProfiles)
	r.Post("/api/profiles", h.SaveProfile)
	r.Delete("/api/profiles/{id}", h.DeleteProfile)
	r.Get("/api/bookmarks", h.ListBookmarks)
	r.Post("/api/bookmarks", h.SaveBookmark)
	r.Delete("/api/bookmarks/{id}", h.DeleteBookmark)

	r.Get("/api/logs", h.Logs)
	r.Delete("/api/logs", h.ClearLogs)

	return r
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

// Connect opens a new session and returns its identifier.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	var req validate.ConnectRequest
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.Connect(req); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	id, err := h.Registry.Connect(r.Context(), session.ConnectOptions{
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   req.Password,
		PrivateKey: []byte(req.PrivateKey),
		Passphrase: req.Passphrase,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"identifier": id})
}

// Disconnect tears down a session. A second disconnect of the same
// identifier reports NOT_FOUND, never a crash.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"identifier"`
	}
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.Identifier(req.ID); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	if err := h.Registry.Disconnect(req.ID); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"status": "disconnected"})
}

// Connections lists registered sessions. Parameterless read: no validation.
func (h *Handlers) Connections(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.Registry.List())
}

// SessionEvents returns recent lifecycle events for one session.
func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if reasons := validate.Identifier(id); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}
	writeData(w, h.Registry.Events(id))
}

// Exec runs a command to completion and returns stdout, stderr, exit code,
// and duration.
func (h *Handlers) Exec(w http.ResponseWriter, r *http.Request) {
	var req validate.ExecRequest
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.Exec(req); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	s, err := h.Registry.Lookup(req.ID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	result, err := remotexec.Execute(r.Context(), s, req.Command, remotexec.Options{
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]interface{}{
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"exitCode":   result.ExitCode,
		"durationMs": result.DurationMs(),
	})
}

// ListDirectory returns the single-level contents of a remote directory.
func (h *Handlers) ListDirectory(w http.ResponseWriter, r *http.Request) {
	var req validate.ListRequest
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.List(req); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	s, err := h.Registry.Lookup(req.ID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	entries, err := remotefs.List(s, req.RemotePath)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"path": req.RemotePath, "entries": entries})
}

// ListDirectoryRecursive returns a flat listing of a remote subtree with
// any per-subdirectory errors alongside the partial results.
func (h *Handlers) ListDirectoryRecursive(w http.ResponseWriter, r *http.Request) {
	var req validate.ListRequest
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.List(req); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	s, err := h.Registry.Lookup(req.ID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	entries, subErrs, err := remotefs.ListRecursive(s, req.RemotePath)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]interface{}{
		"path":      req.RemotePath,
		"entries":   entries,
		"subErrors": subErrs,
	})
}

// Download copies a remote file to a local path.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "download")
}

// Upload copies a local file to a remote path.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "upload")
}

func (h *Handlers) transfer(w http.ResponseWriter, r *http.Request, direction string) {
	var req validate.TransferRequest
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.Transfer(req, h.LocalRoots); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	s, err := h.Registry.Lookup(req.ID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	opts := remotefs.TransferOptions{ChunkSize: h.ChunkSize}
	var summary *remotefs.TransferSummary
	if direction == "upload" {
		summary, err = remotefs.Upload(r.Context(), s, req.LocalPath, req.RemotePath, opts)
	} else {
		summary, err = remotefs.Download(r.Context(), s, req.RemotePath, req.LocalPath, opts)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, summary)
}
