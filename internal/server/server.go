// Package server exposes Laplace inference sessions over a REST API and a
// JSON-RPC 2.0 endpoint.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/laplace/internal/config"
	apierrors "github.com/copyleftdev/laplace/internal/errors"
	"github.com/copyleftdev/laplace/internal/logging"
	"github.com/copyleftdev/laplace/internal/problem"
)

// Server implements the HTTP and JSON-RPC server for the inference service.
// Sessions are kept in an LRU cache; work on one session is serialised.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	zap      *zap.Logger
	sessions *sessionStore
	now      func() time.Time
	newID    func() string
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	sessions, err := newSessionStore(cfg.Inference.SessionCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		zap:      logging.NewZapLogger(logger),
		sessions: sessions,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/inference", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleStatus)
		r.Post("/{id}/update", s.handleUpdate)
		r.Post("/{id}/predict", s.handlePredict)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// updateRequest changes the scale or solver of a session before the next
// update. Absent fields keep their current values.
type updateRequest struct {
	Scale     *float64              `json:"scale,omitempty"`
	Solver    *problem.SolverConfig `json:"solver,omitempty"`
	WarmStart []float64             `json:"warm_start,omitempty"`
}

type predictRequest struct {
	Inputs [][]float64 `json:"inputs"`
}

// create builds a problem from def, runs the first update and stores the
// session.
func (s *Server) create(def problem.Definition) (*sessionView, error) {
	if err := def.Validate(s.cfg.Inference.MaxObservations); err != nil {
		return nil, err
	}

	id := s.newID()
	p, err := problem.Build(def, s.cfg.Inference.Solver, s.zap.With(zap.String("session", id)))
	if err != nil {
		return nil, err
	}

	sess := &session{id: id, problem: p, createdAt: s.now()}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.run(sess); err != nil {
		return nil, err
	}
	s.sessions.add(sess)

	s.logger.Info("Session created", map[string]interface{}{
		"session":      id,
		"observations": p.Len(),
		"likelihood":   def.Likelihood.Name,
	})
	return sess.view(), nil
}

// run updates the posterior of sess and records metrics. It must be called
// with sess.mu held.
func (s *Server) run(sess *session) error {
	start := time.Now()
	result, err := sess.problem.Run()
	if err != nil {
		return err
	}

	updateDuration.WithLabelValues(result.Solver).Observe(time.Since(start).Seconds())
	updatesTotal.WithLabelValues(result.Solver, result.Status).Inc()
	updateIterations.Observe(float64(result.Iterations))
	if result.FellBack {
		fallbacksTotal.Inc()
	}
	if result.WarmStart {
		warmStartsTotal.Inc()
	}

	sess.result = result
	sess.updates++
	sess.updatedAt = s.now()
	return nil
}

func (s *Server) lookup(id string) (*session, error) {
	if id == "" {
		return nil, apierrors.New(apierrors.KindInvalid, "session id is required")
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		return nil, apierrors.Errorf(apierrors.KindNotFound, "session %s not found", id)
	}
	return sess, nil
}

func (s *Server) status(id string) (*sessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

func (s *Server) update(id string, req updateRequest) (*sessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	inf := sess.problem.Inference()
	scale := inf.Scale()
	if req.Scale != nil {
		scale = *req.Scale
	}
	if req.Solver != nil {
		err = sess.problem.Retune(scale, &req.Solver.Config)
	} else {
		err = sess.problem.Retune(scale, nil)
	}
	if err != nil {
		return nil, err
	}
	if len(req.WarmStart) > 0 {
		sess.problem.WarmStart(req.WarmStart)
	}

	if err := s.run(sess); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

func (s *Server) predict(id string, req predictRequest) (*problem.Prediction, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.problem.Predict(req.Inputs)
}

func (s *Server) remove(id string) error {
	if id == "" {
		return apierrors.New(apierrors.KindInvalid, "session id is required")
	}
	if !s.sessions.remove(id) {
		return apierrors.Errorf(apierrors.KindNotFound, "session %s not found", id)
	}
	s.logger.Info("Session deleted", map[string]interface{}{"session": id})
	return nil
}

// Close drops all sessions.
func (s *Server) Close() error {
	s.sessions.purge()
	return s.zap.Sync()
}

// decode reads a JSON body of at most MaxBodyBytes into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierrors.WrapKind(err, apierrors.KindInvalid, "invalid request body")
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierrors.KindOf(err)
	errorsTotal.WithLabelValues(kind.String()).Inc()
	if kind == apierrors.KindInternal {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	apierrors.WriteJSON(w, err)
}

// handleCreate handles POST /api/v1/inference.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var def problem.Definition
	if err := s.decode(w, r, &def); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.create(def)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/inference/"+view.ID)
	s.respond(w, http.StatusCreated, view)
}

// handleStatus handles GET /api/v1/inference/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.status(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, view)
}

// handleUpdate handles POST /api/v1/inference/{id}/update.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.update(chi.URLParam(r, "id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, view)
}

// handlePredict handles POST /api/v1/inference/{id}/predict.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	pred, err := s.predict(chi.URLParam(r, "id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, pred)
}

// handleDelete handles DELETE /api/v1/inference/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.remove(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rpcRequest is a JSON-RPC 2.0 request. Params may be an object or an
// array whose first element is the object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcSessionParams struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, -32600, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "inference.run":
		var def problem.Definition
		if err = decodeParams(request.Params, &def); err == nil {
			result, err = s.create(def)
		}
	case "inference.status":
		var p rpcSessionParams
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.status(p.ID)
		}
	case "inference.update":
		var p struct {
			rpcSessionParams
			updateRequest
		}
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.update(p.ID, p.updateRequest)
		}
	case "inference.predict":
		var p struct {
			rpcSessionParams
			predictRequest
		}
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.predict(p.ID, p.predictRequest)
		}
	case "inference.delete":
		var p rpcSessionParams
		if err = decodeParams(request.Params, &p); err == nil {
			if err = s.remove(p.ID); err == nil {
				result = map[string]string{"id": p.ID, "status": "deleted"}
			}
		}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		kind := apierrors.KindOf(err)
		errorsTotal.WithLabelValues(kind.String()).Inc()
		s.respondWithError(w, kind.RPCCode(), err.Error(), request.ID)
		return
	}

	s.respond(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: request.ID, Result: result})
}

// decodeParams decodes JSON-RPC params into v.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apierrors.New(apierrors.KindInvalid, "missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return apierrors.New(apierrors.KindInvalid, "invalid parameter format, expected object")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierrors.WrapKind(err, apierrors.KindInvalid, "invalid parameters")
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Debug("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})
	s.respond(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
