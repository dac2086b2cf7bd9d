package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/analyze"
	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/internal/store"
)

type saveRequest struct {
	Records []models.RecordInput `json:"records"`
}

type analyzeRequest struct {
	Filter string   `json:"filter"`
	Fields []string `json:"fields,omitempty"`
	Stats  string   `json:"stats,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("save request", zap.Int("records", len(req.Records)))
	resp, err := s.store.Save(r.Context(), req.Records)
	if err != nil {
		s.respondStoreError(w, "save failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var query models.RecallQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Normalize(s.config.Recall.DefaultK, s.config.Recall.MaxK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var f *filter.Expr
	if query.Filter != "" {
		expr, err := filter.Parse(query.Filter)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		f = &expr
	}
	s.logger.Debug("recall request", zap.String("query", query.Query), zap.Int("k", *query.K))
	resp, err := s.store.Recall(r.Context(), query.Query, *query.K, f)
	if err != nil {
		s.respondStoreError(w, "recall failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := analyze.Query{
		Fields:   req.Fields,
		StatsKey: req.Stats,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}
	if q.Limit == 0 {
		q.Limit = s.config.Analyze.DefaultLimit
	}
	if req.Filter != "" {
		expr, err := filter.Parse(req.Filter)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Filter = &expr
	}
	res, err := s.store.Analyze(r.Context(), q)
	if err != nil {
		s.respondStoreError(w, "analyze failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("clean request", zap.String("store", s.store.Base()))
	res, err := s.store.Clean(r.Context())
	if err != nil {
		s.respondStoreError(w, "clean failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Status(r.Context())
	if err != nil {
		s.respondStoreError(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"directory":  s.watch.Directory(),
		"extensions": s.watch.Extensions(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNoSuchID):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, filter.ErrInvalidExpr),
		errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, analyze.ErrInvalidQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondStoreError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
