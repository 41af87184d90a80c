package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/muninstore/munin/pkg/store"
)

// recordResponse is the JSON shape of a record metadata lookup.
type recordResponse struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	Deleted   bool   `json:"deleted"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecordLookup(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseInt(chi.URLParam(r, "offset"), 10, 64)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset"})
		return
	}

	info, err := s.hd.GetMessageInfo(s.read, offset, s.factory)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := recordResponse{
		Key:     info.Key.String(),
		Size:    info.Size,
		Deleted: info.Deleted,
	}
	if !info.ExpiresAt.IsZero() {
		resp.ExpiresAt = info.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
