package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/skiff-ssh/skiff/internal/remotexec"
	"github.com/skiff-ssh/skiff/internal/validate"
)

// streamFrame is one WebSocket message of a streaming execution. Output
// frames carry Stream and Data; the final frame carries either the exit
// code or an error.
type streamFrame struct {
	Stream     string `json:"stream,omitempty"` // "stdout" or "stderr"
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
}

// wsStreamWriter relays one output stream to the WebSocket as it arrives.
type wsStreamWriter struct {
	ctx    context.Context
	conn   *websocket.Conn
	stream string
}

func (w *wsStreamWriter) Write(p []byte) (int, error) {
	frame, err := json.Marshal(streamFrame{Stream: w.stream, Data: string(p)})
	if err != nil {
		return 0, err
	}
	if err := w.conn.Write(w.ctx, websocket.MessageText, frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ExecStream runs a command and streams its output over a WebSocket,
// frame per chunk, so the UI can render large output incrementally.
// Query parameters: identifier, command, timeoutMs (optional).
func (h *Handlers) ExecStream(w http.ResponseWriter, r *http.Request) {
	req := validate.ExecRequest{
		ID:      r.URL.Query().Get("identifier"),
		Command: r.URL.Query().Get("command"),
	}
	if v := r.URL.Query().Get("timeoutMs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationFailure(w, []string{"timeoutMs must be an integer"})
			return
		}
		req.TimeoutMs = n
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // local UI only; the server binds loopback
	})
	if err != nil {
		log.Printf("[dispatch] websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended unexpectedly")

	ctx := r.Context()
	// Drain client frames so pings are answered; the client sends no input.
	readCtx := conn.CloseRead(ctx)

	result, execErr := remotexec.Execute(readCtx, s, req.Command, remotexec.Options{
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
		Stdout:  &wsStreamWriter{ctx: ctx, conn: conn, stream: "stdout"},
		Stderr:  &wsStreamWriter{ctx: ctx, conn: conn, stream: "stderr"},
	})

	final := streamFrame{Done: true}
	if execErr != nil {
		final.Error = execErr.Error()
		final.Code = codeFor(execErr)
	} else {
		final.ExitCode = &result.ExitCode
		final.DurationMs = result.DurationMs()
	}
	if frame, err := json.Marshal(final); err == nil {
		conn.Write(ctx, websocket.MessageText, frame)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
