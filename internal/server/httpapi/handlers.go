package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.Ping(r.Context()))
}

func (h *handlers) syncHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := h.doSync(w, r)
	h.metrics.ObserveSync("http", statusOutcome(code), time.Since(start))
}

func (h *handlers) doSync(w http.ResponseWriter, r *http.Request) int {
	userID, _ := userIDFrom(r.Context())

	var req syncapi.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, syncapi.MaxMessageSize)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, syncapi.ErrCodeBadRequest, "request body too large", nil)
			return http.StatusRequestEntityTooLarge
		}
		writeError(w, http.StatusBadRequest, syncapi.ErrCodeBadRequest, "malformed JSON body: "+err.Error(), nil)
		return http.StatusBadRequest
	}

	resp, err := h.sync.Sync(r.Context(), userID, &req)
	if err != nil {
		h.logger.Warn(r.Context(), "sync failed", "user", userID, "request_id", requestIDFrom(r.Context()), "error", err)
		return writeServiceError(w, err)
	}

	writeJSON(w, http.StatusOK, resp)
	return http.StatusOK
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())

	resp, err := h.sync.Status(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
