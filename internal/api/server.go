// Package api serves the read-only HTTP view of positions, ledgers and
// snapshots.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/domain"
	"lp-pnl-tracker/internal/orchestrator"
	"lp-pnl-tracker/internal/storage"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// StatusSource reports the last cycle result per instance.
type StatusSource interface {
	Status() []orchestrator.RunResult
}

// Options for creating Server.
type Options struct {
	Positions storage.PositionStore
	Ledger    storage.OperationLedger
	Snapshots storage.SnapshotStore
	History   storage.SnapshotHistoryStore // optional
	Status    StatusSource                 // optional
	Now       func() time.Time
	Logger    *zap.Logger
}

// Server handles the HTTP endpoints.
type Server struct {
	positions storage.PositionStore
	ledger    storage.OperationLedger
	snapshots storage.SnapshotStore
	history   storage.SnapshotHistoryStore
	status    StatusSource
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a new Server.
func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		positions: opts.Positions,
		ledger:    opts.Ledger,
		snapshots: opts.Snapshots,
		history:   opts.History,
		status:    opts.Status,
		now:       now,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// Router returns the HTTP handler with every route registered.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	router.HandleFunc("/positions/{pool}/{tokenId}/operations", s.handleOperations).Methods(http.MethodGet)
	router.HandleFunc("/positions/{pool}/{tokenId}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/positions/{pool}/{tokenId}/history", s.handleHistory).Methods(http.MethodGet)
	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	results := []orchestrator.RunResult{}
	if s.status != nil {
		results = s.status.Status()
	}
	respondJSON(w, map[string]interface{}{
		"instances": results,
		"count":     len(results),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.PositionFilter{
		PoolName: q.Get("pool_name"),
		Owner:    q.Get("owner"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, "invalid active: must be true or false", http.StatusBadRequest)
			return
		}
		filter.ActiveOnly = active
	}

	positions, err := s.positions.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list positions", err)
		return
	}

	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, NewPositionView(p))
	}
	respondJSON(w, map[string]interface{}{
		"positions": views,
		"count":     len(views),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pool, tokenID := vars["pool"], vars["tokenId"]
	if !validTokenID(tokenID) {
		respondError(w, "invalid tokenId: must be a number", http.StatusBadRequest)
		return
	}

	ops, err := s.ledger.Replay(r.Context(), pool, tokenID)
	if err != nil {
		s.internalError(w, "replay ledger", err)
		return
	}

	views := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, NewOperationView(op))
	}
	respondJSON(w, map[string]interface{}{
		"pool_address": pool,
		"token_id":     tokenID,
		"operations":   views,
		"count":        len(views),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := s.positionKey(w, r)
	if !ok {
		return
	}

	snap, err := s.snapshots.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "snapshot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "get snapshot", err)
		return
	}
	respondJSON(w, NewSnapshotView(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, "snapshot history is not configured", http.StatusNotImplemented)
		return
	}
	key, ok := s.positionKey(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, "invalid limit: must be a positive number", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	snaps, err := s.history.History(r.Context(), key, limit)
	if err != nil {
		s.internalError(w, "snapshot history", err)
		return
	}
	views := make([]SnapshotView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, NewSnapshotView(snap))
	}
	respondJSON(w, map[string]interface{}{
		"snapshots": views,
		"count":     len(views),
	})
}

// positionKey resolves the route's position. Without pool_name the
// position store decides which DEX the pool belongs to.
func (s *Server) positionKey(w http.ResponseWriter, r *http.Request) (domain.PositionKey, bool) {
	vars := mux.Vars(r)
	key := domain.PositionKey{
		PoolAddress: vars["pool"],
		TokenID:     vars["tokenId"],
		PoolName:    r.URL.Query().Get("pool_name"),
	}
	if !validTokenID(key.TokenID) {
		respondError(w, "invalid tokenId: must be a number", http.StatusBadRequest)
		return key, false
	}
	if key.PoolName != "" {
		return key, true
	}

	pos, err := s.findPosition(r.Context(), key.PoolAddress, key.TokenID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "position not found", http.StatusNotFound)
		return key, false
	}
	if err != nil {
		s.internalError(w, "find position", err)
		return key, false
	}
	return pos.Key(), true
}

func (s *Server) findPosition(ctx context.Context, pool, tokenID string) (*domain.Position, error) {
	all, err := s.positions.List(ctx, storage.PositionFilter{})
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if strings.EqualFold(p.PoolAddress, pool) && p.TokenID == tokenID {
			return p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	respondError(w, err.Error(), http.StatusInternalServerError)
}

func validTokenID(id string) bool {
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
