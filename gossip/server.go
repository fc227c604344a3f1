package gossip

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/ledgererr"
)

// Source answers the server side of the gossip protocol against local
// storage. A node's worker package supplies the concrete implementation.
type Source interface {
	BuildPullResponse(ledgerID, cursor string) (*PullResponse, error)
	GetEvents(ledgerID string, hashes []string) ([]*dag.Event, error)
	OnNotify(ledgerID, peerID string)
}

// Server is the gossip protocol's HTTP endpoint.
type Server struct {
	source Source
	addr   string
	log    logrus.FieldLogger
	srv    *http.Server
	ln     net.Listener
}

// NewServer builds a Server bound to addr. log may be nil, in which case
// logrus.StandardLogger() is used.
func NewServer(addr string, source Source, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{source: source, addr: addr, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/gossip/pull", s.handlePull)
	mux.HandleFunc("/gossip/notify", s.handleNotify)
	mux.HandleFunc("/gossip/events", s.handleGetEvents)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously then serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("gossip: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener's address. Useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ledgererr.KindValidation, err.Error())
		return
	}
	resp, err := s.source.BuildPullResponse(req.LedgerID, req.Cursor)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ledgererr.KindValidation, err.Error())
		return
	}
	s.source.OnNotify(req.LedgerID, req.PeerID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var req GetEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ledgererr.KindValidation, err.Error())
		return
	}
	events, err := s.source.GetEvents(req.LedgerID, req.Hashes)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GetEventsResponse{Events: events})
}

func writeHandlerError(w http.ResponseWriter, err error) {
	kind, ok := ledgererr.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case ledgererr.KindNotFound:
		status = http.StatusNotFound
	case ledgererr.KindValidation, ledgererr.KindProtocolViolation, ledgererr.KindSyntax:
		status = http.StatusBadRequest
	case ledgererr.KindLoad:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, kind, err.Error())
}

func writeError(w http.ResponseWriter, status int, kind ledgererr.Kind, message string) {
	writeJSON(w, status, wireError{Kind: string(kind), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
