package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/snippets"
)

// ListSnippets returns all stored command snippets, title-ordered.
func ListSnippets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Snips.List())
}

// CreateSnippet stores a new snippet.
func CreateSnippet(w http.ResponseWriter, r *http.Request) {
	var snip snippets.CommandSnippet
	if !decodeBody(w, r, &snip) {
		return
	}
	id, err := Snips.Create(snip)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// UpdateSnippet replaces a snippet under the id in the path.
func UpdateSnippet(w http.ResponseWriter, r *http.Request) {
	var snip snippets.CommandSnippet
	if !decodeBody(w, r, &snip) {
		return
	}
	snip.ID = chi.URLParam(r, "id")
	if err := Snips.Update(snip); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveSnippet deletes a snippet.
func RemoveSnippet(w http.ResponseWriter, r *http.Request) {
	if err := Snips.Remove(chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
