package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skiff-ssh/skiff/internal/session"
)

// Result codes. VALIDATION_ERROR and HANDLER_ERROR are the two top-level
// families the UI branches on; the remaining codes refine HANDLER_ERROR
// into the error taxonomy.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeHandler        = "HANDLER_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeAuth           = "AUTH_ERROR"
	CodeNetwork        = "NETWORK_ERROR"
	CodeProtocol       = "PROTOCOL_ERROR"
	CodeConnectionLost = "CONNECTION_LOST"
	CodeTransfer       = "TRANSFER_ERROR"
	CodeTimeout        = "TIMEOUT"
)

// Envelope is the uniform result shape for every operation.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details []string    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// writeValidationFailure writes the validation rejection shape. The reasons
// are ordered as the validator produced them.
func writeValidationFailure(w http.ResponseWriter, reasons []string) {
	writeJSON(w, http.StatusBadRequest, Envelope{
		Success: false,
		Error:   "Validation failed: " + reasons[0],
		Code:    CodeValidation,
		Details: reasons,
	})
}

// classify maps a runtime error onto the envelope taxonomy and an HTTP
// status. Anything unrecognized is a plain handler error.
func classify(err error) (code string, status int) {
	var authErr *session.AuthError
	var netErr *session.NetworkError
	var protoErr *session.ProtocolError
	var lostErr *session.ConnectionLostError
	var timeoutErr *session.TimeoutError
	var transferErr *session.TransferError

	switch {
	case errors.Is(err, session.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.As(err, &authErr):
		return CodeAuth, http.StatusBadGateway
	case errors.As(err, &netErr):
		return CodeNetwork, http.StatusBadGateway
	case errors.As(err, &protoErr):
		return CodeProtocol, http.StatusBadGateway
	case errors.As(err, &lostErr):
		return CodeConnectionLost, http.StatusBadGateway
	case errors.As(err, &timeoutErr):
		return CodeTimeout, http.StatusGatewayTimeout
	case errors.As(err, &transferErr):
		return CodeTransfer, http.StatusBadGateway
	}
	return CodeHandler, http.StatusInternalServerError
}

// codeFor returns only the envelope code for err.
func codeFor(err error) string {
	code, _ := classify(err)
	return code
}

// writeOpError writes a failure envelope for a runtime operation error.
// Transfer failures carry the completed byte count so the caller can
// resume or restart.
func writeOpError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	env := Envelope{Success: false, Error: err.Error(), Code: code}

	var transferErr *session.TransferError
	if errors.As(err, &transferErr) {
		env.Data = map[string]int64{"bytesCompleted": transferErr.BytesCompleted}
	}
	writeJSON(w, status, env)
}
