package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// decodeJSON parses the request body into dst, writing the error
// response itself on failure. Returns false when the handler should
// stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, invalidMsg string) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return false
	}
	if invalidMsg == "" {
		invalidMsg = "invalid json"
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": invalidMsg})
	return false
}
