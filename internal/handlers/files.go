package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/audit"
	"github.com/panemux/panemux/internal/remotefs"
)

// LocalTarget is the session id selecting the machine's own filesystem.
const LocalTarget = "local"

// filesystemFor resolves the adapter serving one side of the pane.
func filesystemFor(sessionID string) (remotefs.Filesystem, error) {
	if sessionID == LocalTarget {
		return LocalFS, nil
	}
	return Supervisor.Remote(sessionID)
}

// ListFiles lists one directory of either side.
func ListFiles(w http.ResponseWriter, r *http.Request) {
	fs, err := filesystemFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = fs.HomeDirectory()
	}
	entries, err := fs.ListFiles(path)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"entries": entries,
	})
}

// HomeDirectory resolves the landing directory of one side.
func HomeDirectory(w http.ResponseWriter, r *http.Request) {
	fs, err := filesystemFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": fs.HomeDirectory()})
}

type getFileRequest struct {
	Path      string `json:"path"`
	LocalPath string `json:"localPath"`
}

// GetFile copies a whole file from the addressed side to a local path.
func GetFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fs, err := filesystemFor(sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req getFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || req.LocalPath == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path and localPath are required")
		return
	}
	if err := fs.GetFile(req.Path, req.LocalPath); err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: sessionID, EventType: audit.EventFileDownload, Details: req.Path})
	w.WriteHeader(http.StatusNoContent)
}

type putFileRequest struct {
	Path string `json:"path"`
	// Content is base64 so binary payloads survive the JSON body.
	Content string `json:"content"`
}

// PutFile writes whole-file content on the addressed side.
func PutFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fs, err := filesystemFor(sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req putFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "content is not valid base64")
		return
	}
	if err := fs.PutFile(req.Path, content); err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: sessionID, EventType: audit.EventFileUpload, Details: req.Path})
	w.WriteHeader(http.StatusNoContent)
}

type pathRequest struct {
	Path string `json:"path"`
}

// MkdirFile creates a single directory on the addressed side.
func MkdirFile(w http.ResponseWriter, r *http.Request) {
	fs, err := filesystemFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req pathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}
	if err := fs.Mkdir(req.Path); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveFile deletes a single file on the addressed side.
func RemoveFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fs, err := filesystemFor(sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req pathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}
	if err := fs.Remove(req.Path); err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: sessionID, EventType: audit.EventFileRemove, Details: req.Path})
	w.WriteHeader(http.StatusNoContent)
}
