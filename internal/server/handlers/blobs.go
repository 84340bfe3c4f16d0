package handlers

import (
	"net/http"
	"strings"

	"github.com/signbase/signbase/internal/blob"
)

// metaHeaderPrefix maps custom metadata to HTTP headers: a metadata pair
// {word: hello} travels as "X-Blob-Meta-Word: hello".
const metaHeaderPrefix = "X-Blob-Meta-"

// BlobHandler exposes the blob store. Payloads travel as raw request and
// response bodies, not JSON, so these handlers bypass the typed wrapper.
type BlobHandler struct {
	blobs *blob.Store
}

// NewBlobHandler creates a new blob handler.
func NewBlobHandler(blobs *blob.Store) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

// Put stores the request body at the path, replacing any existing blob.
// Content type comes from the Content-Type header, custom metadata from
// X-Blob-Meta-* headers.
func (h *BlobHandler) Put(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	meta := metadataFromHeaders(r.Header)
	handle, err := h.blobs.Put(r.Context(), path, r.Body, r.Header.Get("Content-Type"), meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"path":      handle.Path,
		"uri":       handle.URI,
		"sizeBytes": handle.SizeBytes,
	})
}

// Get serves the blob's bytes with its content type and metadata headers.
// A reference=true query returns the download URI as JSON instead.
func (h *BlobHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if r.URL.Query().Get("reference") == "true" {
		uri, err := h.blobs.GetDownloadReference(path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"uri": uri})
		return
	}
	content, err := h.blobs.GetContent(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if content.ContentType != "" {
		w.Header().Set("Content-Type", content.ContentType)
	}
	for k, v := range content.CustomMetadata {
		w.Header().Set(metaHeaderPrefix+k, v)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

// Delete removes the blob. Idempotent; an absent path still returns 200.
func (h *BlobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.blobs.Delete(r.PathValue("path")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

func metadataFromHeaders(headers http.Header) map[string]string {
	var meta map[string]string
	for k, v := range headers {
		if !strings.HasPrefix(k, metaHeaderPrefix) || len(v) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.ToLower(strings.TrimPrefix(k, metaHeaderPrefix))] = v[0]
	}
	return meta
}
