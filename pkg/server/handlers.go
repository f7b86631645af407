package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// VersionRequest is the request body of POST /api/query/version.
type VersionRequest struct {
	Query    string `json:"query"`
	After    string `json:"after,omitempty"`
	Before   string `json:"before,omitempty"`
	FillGaps bool   `json:"fill_gaps,omitempty"`
}

// DeltaRequest is the request body of POST /api/query/delta.
type DeltaRequest struct {
	Query      string   `json:"query"`
	After      string   `json:"after,omitempty"`
	Before     string   `json:"before,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// HealthCheck handles GET /healthz
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EntityHistory handles GET /api/entities/history
// Query params: uri (required), related=objects,merged,reverse, depth, prov
func (s *Server) EntityHistory(w http.ResponseWriter, r *http.Request) {
	uri, discovery, ok := s.entityParams(w, r)
	if !ok {
		return
	}
	tl := s.engine.Timeline()

	var doc *EntityDocument
	if discovery.Any() {
		merged, err := tl.HistoryWithRelated(r.Context(), uri, discovery)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		doc = MergedHistoryDocument(merged)
	} else {
		h, err := tl.History(r.Context(), uri, timeline.HistoryOptions{IncludeMetadata: discovery.IncludeMetadata})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		doc = HistoryDocument(h)
	}
	writeJSON(w, http.StatusOK, doc)
}

// EntityState handles GET /api/entities/state
// Query params: uri (required), after, before, related, depth, prov
func (s *Server) EntityState(w http.ResponseWriter, r *http.Request) {
	uri, discovery, ok := s.entityParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	iv, err := timeline.ParseInterval(q.Get("after"), q.Get("before"))
	if err != nil {
		s.fail(w, r, errors.Mark(err, errors.ErrInvalidInput))
		return
	}
	tl := s.engine.Timeline()

	var doc *EntityDocument
	if discovery.Any() {
		merged, err := tl.StateAtWithRelated(r.Context(), uri, iv, discovery)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		doc = MergedStateDocument(merged)
	} else {
		st, err := tl.StateAt(r.Context(), uri, iv, discovery.IncludeMetadata)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		doc = StateDocument(st)
	}
	writeJSON(w, http.StatusOK, doc)
}

// entityParams reads the parameters shared by the entity routes. It
// writes the error response itself and reports false on bad input.
func (s *Server) entityParams(w http.ResponseWriter, r *http.Request) (string, timeline.DiscoveryOptions, bool) {
	q := r.URL.Query()
	uri := strings.TrimSpace(q.Get("uri"))
	if uri == "" {
		s.fail(w, r, errors.WithHint(
			errors.Wrap(errors.ErrInvalidInput, "missing uri parameter"),
			"pass the entity IRI as ?uri="))
		return "", timeline.DiscoveryOptions{}, false
	}

	var kinds []string
	if raw := q.Get("related"); raw != "" {
		kinds = strings.Split(raw, ",")
	}
	discovery, err := timeline.ParseDiscovery(kinds)
	if err != nil {
		s.fail(w, r, errors.Mark(err, errors.ErrInvalidInput))
		return "", timeline.DiscoveryOptions{}, false
	}
	if raw := q.Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			s.fail(w, r, errors.Wrapf(errors.ErrInvalidInput, "invalid depth %q", raw))
			return "", timeline.DiscoveryOptions{}, false
		}
		discovery.Depth = depth
	}
	if raw := q.Get("prov"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, errors.Wrapf(errors.ErrInvalidInput, "invalid prov %q", raw))
			return "", timeline.DiscoveryOptions{}, false
		}
		discovery.IncludeMetadata = include
	}
	return uri, discovery, true
}

// VersionQuery handles POST /api/query/version
func (s *Server) VersionQuery(w http.ResponseWriter, r *http.Request) {
	var req VersionRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := intervalOption(req.After, req.Before)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.FillGaps {
		opts = append(opts, agnostic.WithGapFilling())
	}

	vq, err := s.engine.VersionQuery(req.Query, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := vq.Run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Document())
}

// DeltaQuery handles POST /api/query/delta
func (s *Server) DeltaQuery(w http.ResponseWriter, r *http.Request) {
	var req DeltaRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := intervalOption(req.After, req.Before)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Properties) > 0 {
		opts = append(opts, agnostic.WithChangedProperties(req.Properties...))
	}

	dq, err := s.engine.DeltaQuery(req.Query, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	deltas, warnings, err := dq.Run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDeltaDocument(deltas, warnings))
}

func intervalOption(after, before string) ([]agnostic.Option, error) {
	iv, err := timeline.ParseInterval(after, before)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrInvalidInput)
	}
	if iv.IsZero() {
		return nil, nil
	}
	return []agnostic.Option{agnostic.WithInterval(iv)}, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.fail(w, r, errors.Wrap(errors.Mark(err, errors.ErrInvalidInput), "decode request body"))
		return false
	}
	return true
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.IsAny(err, errors.ErrUnsupportedQuery, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrStoreAccess):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	log := logger.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", logger.FieldPath, r.URL.Path, logger.FieldError, err)
	} else {
		log.Debugw("Request rejected", logger.FieldPath, r.URL.Path, logger.FieldError, err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Hint:      errors.FlattenHints(err),
		RequestID: logger.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
