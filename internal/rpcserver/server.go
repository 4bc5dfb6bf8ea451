// Package rpcserver is the thin HTTP/JSON adapter from spec §6: it decodes
// one of the five actions, calls into internal/engine, and re-encodes the
// result. It is deliberately dumb - all engine semantics (queueing,
// cancellation, the state machine) live in internal/engine; this package
// never touches a Job's internals directly.
//
// Routing follows the teacher's RPC HTTP server posture
// (probe/catalyst/api.go registers JSON-RPC services on a node; here there
// is no JSON-RPC 2.0 envelope, just a single POST / action-dispatch
// protocol per spec §6) using the same pair of third-party packages geth's
// RPC HTTP server wires in: github.com/julienschmidt/httprouter for
// routing and github.com/rs/cors for the CORS wrapper.
package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/JeanOUINA/vite-work-server/internal/engine"
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// Server wraps a Dispatcher with the HTTP/JSON surface from spec §6.
type Server struct {
	dispatcher *engine.Dispatcher
	log        vlog.Logger
	handler    http.Handler
}

// New builds the HTTP handler. It takes no listen address; the caller owns
// the http.ListenAndServe/http.Server lifecycle (spec treats
// listen address binding as an external collaborator concern, §1, §6).
func New(dispatcher *engine.Dispatcher, log vlog.Logger) *Server {
	s := &Server{dispatcher: dispatcher, log: log.New("component", "rpc")}

	router := httprouter.New()
	router.POST("/", s.handleAction)
	// Additive convenience route (SPEC_FULL.md §12); the canonical path
	// for every action, including status, remains POST / per spec §6.
	router.GET("/status", s.handleStatusGet)

	s.handler = cors.Default().Handler(router)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// request is the union of every action's request fields (spec §6's table).
// Unused fields for a given action are simply ignored.
type request struct {
	Action    string `json:"action"`
	Hash      string `json:"hash"`
	Threshold string `json:"threshold"`
	Work      string `json:"work"`
	Count     string `json:"count"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON request body")
		return
	}

	switch req.Action {
	case "work_generate":
		s.workGenerate(w, req)
	case "work_validate":
		s.workValidate(w, req)
	case "work_cancel":
		s.workCancel(w, req)
	case "benchmark":
		s.benchmark(w, req)
	case "status":
		s.status(w)
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

func (s *Server) handleStatusGet(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.status(w)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
