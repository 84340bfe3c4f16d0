// Package handlers implements the REST endpoints of the local backend
// emulation. The routes mirror the hosted service's surface so the browser
// client swaps backends by changing a base URL.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/signbase/signbase/internal/blob"
	"github.com/signbase/signbase/internal/docstore"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/session"
)

// Services bundles the three stores for the handlers.
type Services struct {
	Sessions  *session.Store
	Documents *docstore.Store
	Blobs     *blob.Store
}

// writeJSON writes v as a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as the {code, message} envelope with its mapped
// HTTP status. Mirrors the wrapper in the server package for the raw
// handlers that bypass it.
func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	body := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": err.Error(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errcode.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(body)
}
