package server

import (
	"log/slog"

	"github.com/Co-Epi/coepi-core/api/httpserver"
	"github.com/Co-Epi/coepi-core/protocol"
)

// Server is the runnable report distribution service: the base HTTP server
// with the report endpoints mounted.
type Server struct {
	*httpserver.BaseServer

	handler *Handler
	store   ReportStore
	log     *slog.Logger
}

// New creates the report distribution service over the given store.
func New(httpCfg *httpserver.HTTPServerConfig, traceCfg *protocol.TraceConfig, store ReportStore, log *slog.Logger) (*Server, error) {
	if err := traceCfg.Validate(); err != nil {
		return nil, err
	}

	handler := NewHandler(traceCfg, store, log)
	base, err := httpserver.New(httpCfg, handler)
	if err != nil {
		return nil, err
	}

	return &Server{
		BaseServer: base,
		handler:    handler,
		store:      store,
		log:        log,
	}, nil
}

// Close shuts the HTTP server down and releases the report store.
func (s *Server) Close() error {
	s.Shutdown()
	return s.store.Close()
}
