package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// WriteJSONResponse encodes into a buffer first so a failed encode never
// leaves a partial body. It reports whether the response was written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	return WriteJSONStatus(w, http.StatusOK, v)
}

func WriteJSONStatus(w http.ResponseWriter, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.WithError(err).Error("api_json_encode_failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Debug("api_response_write_failed")
		return false
	}
	return true
}

// ParseLimit reads ?limit=, falling back to def for missing or invalid
// values and capping at maxLimit.
func ParseLimit(r *http.Request, def, maxLimit int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
