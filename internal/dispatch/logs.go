package dispatch

import (
	"net/http"
	"strconv"

	"github.com/skiff-ssh/skiff/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 1000
)

// Logs returns the tail of the application log for the UI's log pane.
// Query parameter: lines (default 200, capped at 1000).
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeValidationFailure(w, []string{"lines must be a positive integer"})
			return
		}
		n = parsed
	}
	if n > maxLogLines {
		n = maxLogLines
	}

	tail, err := logging.ReadTail(n)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"log": tail})
}

// ClearLogs truncates the application log file.
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"status": "cleared"})
}
