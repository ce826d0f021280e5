package dispatch

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skiff-ssh/skiff/internal/store"
	"github.com/skiff-ssh/skiff/internal/validate"
)

// ListProfiles returns all saved profiles. Parameterless read: no
// validation.
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListProfiles()
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, profiles)
}

// SaveProfile creates or updates a profile after shape validation. The
// plaintext password travels only in the request; the store encrypts it
// before persistence.
func (h *Handlers) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             uint   `json:"id,omitempty"`
		Name           string `json:"name"`
		Host           string `json:"host"`
		Port           int    `json:"port"`
		Username       string `json:"username"`
		AuthType       string `json:"authType"`
		Password       string `json:"password,omitempty"`
		PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	if reasons := validate.Profile(req.Name, req.Host, req.Port, req.Username, validate.AuthType(req.AuthType)); len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	p := &store.Profile{
		ID:             req.ID,
		Name:           req.Name,
		Host:           req.Host,
		Port:           req.Port,
		Username:       req.Username,
		AuthType:       req.AuthType,
		PrivateKeyPath: req.PrivateKeyPath,
	}
	if err := h.Store.SaveProfile(p, req.Password); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, p)
}

// DeleteProfile removes a profile and its bookmarks.
func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeValidationFailure(w, []string{"profile id must be a positive integer"})
		return
	}
	if err := h.Store.DeleteProfile(uint(id)); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"status": "deleted"})
}

// ListBookmarks returns bookmarks, optionally filtered by ?profileId=.
func (h *Handlers) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	var profileID uint
	if v := r.URL.Query().Get("profileId"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeValidationFailure(w, []string{"profileId must be a positive integer"})
			return
		}
		profileID = uint(n)
	}
	bookmarks, err := h.Store.ListBookmarks(profileID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, bookmarks)
}

// SaveBookmark creates or updates a bookmark after shape validation.
func (h *Handlers) SaveBookmark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         uint   `json:"id,omitempty"`
		Name       string `json:"name"`
		ProfileID  uint   `json:"profileId"`
		RemotePath string `json:"remotePath"`
	}
	if err := decode(r, &req); err != nil {
		writeValidationFailure(w, []string{err.Error()})
		return
	}
	reasons := validate.Bookmark(req.Name, req.RemotePath)
	if req.ProfileID == 0 {
		reasons = append(reasons, "bookmark profileId must be set")
	}
	if len(reasons) > 0 {
		writeValidationFailure(w, reasons)
		return
	}

	b := &store.Bookmark{ID: req.ID, Name: req.Name, ProfileID: req.ProfileID, RemotePath: req.RemotePath}
	if err := h.Store.SaveBookmark(b); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, b)
}

// DeleteBookmark removes a bookmark.
func (h *Handlers) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeValidationFailure(w, []string{"bookmark id must be a positive integer"})
		return
	}
	if err := h.Store.DeleteBookmark(uint(id)); err != nil {
		writeOpError(w, err)
		return
	}
	writeData(w, map[string]string{"status": "deleted"})
}
