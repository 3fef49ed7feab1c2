package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 256
	maxRequestBytes   = 4 << 20
)

type batchRequest struct {
	URLs     []string `json:"urls"`
	Deadline string   `json:"deadline,omitempty"`
}

type batchListResponse struct {
	BatchIDs []string `json:"batch_ids"`
	Total    int      `json:"total"`
}

type failuresResponse struct {
	BatchID  string           `json:"batch_id"`
	Failures []ingest.Outcome `json:"failures"`
}

// submitBatch handles POST /v1/batches. The batch runs within the request;
// the response carries the full report.
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	urls := normalizeURLs(req.URLs)
	if len(urls) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(urls) > s.cfg.MaxURLs {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", s.cfg.MaxURLs))
		return
	}
	deadline, err := s.batchDeadline(req.Deadline)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	report := s.runner.Run(ctx, urls)
	if err := s.reports.SaveReport(r.Context(), report); err != nil {
		s.logger.Error("save report failed", zap.String("batch_id", report.BatchID), zap.Error(err))
	}
	w.Header().Set("Location", "/v1/batches/"+report.BatchID)
	s.writeJSON(w, http.StatusOK, report)
}

// listBatches handles GET /v1/batches?limit=&offset=, newest first.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultBatchLimit, maxBatchLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := s.reports.ListBatchIDs(r.Context())
	newest := make([]string, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		newest = append(newest, ids[i])
	}
	start := min(offset, len(newest))
	page := newest[start : start+min(limit, len(newest)-start)]
	s.writeJSON(w, http.StatusOK, batchListResponse{BatchIDs: page, Total: len(ids)})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	report, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// getBatchFailures returns only hard failures so clients can resubmit them.
func (s *Server) getBatchFailures(w http.ResponseWriter, r *http.Request) {
	report, ok := s.lookup(w, r)
	if !ok {
		return
	}
	failures := report.Failures()
	if failures == nil {
		failures = []ingest.Outcome{}
	}
	s.writeJSON(w, http.StatusOK, failuresResponse{BatchID: report.BatchID, Failures: failures})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (ingest.Report, bool) {
	batchID := chi.URLParam(r, "batch_id")
	report, err := s.reports.GetReport(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
		} else {
			s.logger.Error("get report failed", zap.String("batch_id", batchID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to load batch")
		}
		return ingest.Report{}, false
	}
	return report, true
}

// batchDeadline picks the tighter of the requested and configured deadlines.
func (s *Server) batchDeadline(requested string) (time.Duration, error) {
	d := s.cfg.BatchDeadline
	if requested == "" {
		return d, nil
	}
	parsed, err := time.ParseDuration(requested)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid deadline")
	}
	if d == 0 || parsed < d {
		d = parsed
	}
	return d, nil
}

func normalizeURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
