// Package api exposes the Munin scrubber's operational HTTP surface:
// Prometheus metrics, a health check, and point lookups of record metadata
// by segment offset for recovery tooling.
package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muninstore/munin/pkg/store"
)

// ServerConfig holds the ops listener configuration.
type ServerConfig struct {
	Bind string
	Port int
}

// Server serves the ops endpoints.
type Server struct {
	hd      store.MessageStoreHardDelete
	read    io.ReaderAt
	factory store.StoreKeyFactory
	config  ServerConfig
}

// NewServer creates the ops server. read is the segment the record lookups
// run against; it may be nil when the hard-delete entry point is backed by
// a materialized metadata source.
func NewServer(hd store.MessageStoreHardDelete, read io.ReaderAt,
	factory store.StoreKeyFactory, config ServerConfig) *Server {
	return &Server{hd: hd, read: read, factory: factory, config: config}
}

// Router builds the chi router for the ops endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/records/{offset}", s.handleRecordLookup)
	return r
}

// ListenAndServe starts the ops listener and blocks.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	return http.ListenAndServe(addr, s.Router())
}
