package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/session"
)

// ListSessions returns every known host as a secret-free view with status.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Registry.List())
}

type sessionCreateRequest struct {
	HostAddress string `json:"hostAddress"`
	Username    string `json:"username"`
	Port        int    `json:"port"`
	Alias       string `json:"alias"`

	Password       string `json:"password"`
	PrivateKeyPath string `json:"privateKeyPath"`
	Passphrase     string `json:"passphrase"`

	RequiresStrongVerification bool `json:"requiresStrongVerification"`

	// AllowDuplicate skips the advisory duplicate check.
	AllowDuplicate bool `json:"allowDuplicate"`
}

// CreateSession stores a new host definition.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HostAddress == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "hostAddress and username are required")
		return
	}

	if !req.AllowDuplicate {
		if dupID, dup := Registry.FindDuplicate(req.HostAddress, req.Port, req.Username); dup {
			writeJSON(w, http.StatusConflict, map[string]string{
				"reason":      "duplicate_host",
				"description": "a host with the same address, port and username exists",
				"existingId":  dupID,
			})
			return
		}
	}

	id, err := Registry.Add(session.HostDefinition{
		HostAddress:                req.HostAddress,
		Username:                   req.Username,
		Port:                       req.Port,
		Alias:                      req.Alias,
		Password:                   req.Password,
		PrivateKeyPath:             req.PrivateKeyPath,
		Passphrase:                 req.Passphrase,
		RequiresStrongVerification: req.RequiresStrongVerification,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetSession returns one host as a secret-free view with status.
func GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateSession merges a patch into an existing definition. Unknown ids are
// a silent no-op, matching the store-merge semantics of the session layer.
func UpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch session.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := Registry.Update(id, patch); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveSession force-closes any live transport and channels, then deletes
// the host.
func RemoveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := Registry.Remove(id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importRequest struct {
	Path string `json:"path"`
}

// ImportSessions reads an OpenSSH client config file and adds its concrete
// host aliases as definitions.
func ImportSessions(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}

	f, err := os.Open(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer f.Close()

	imported, err := Registry.ImportSSHConfig(f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if imported == nil {
		imported = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}
