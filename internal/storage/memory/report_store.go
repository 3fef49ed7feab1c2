package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// ErrReportNotFound is returned when a batch ID is unknown or was evicted.
var ErrReportNotFound = fmt.Errorf("report %w", ingest.ErrNotFound)

const defaultReportCapacity = 256

// ReportStore keeps the most recent batch reports for the HTTP API. Older
// reports are evicted once capacity is reached.
type ReportStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	reports  map[string]ingest.Report
}

// NewReportStore constructs a ReportStore; capacity <= 0 selects a default.
func NewReportStore(capacity int) *ReportStore {
	if capacity <= 0 {
		capacity = defaultReportCapacity
	}
	return &ReportStore{
		capacity: capacity,
		reports:  make(map[string]ingest.Report),
	}
}

// SaveReport records a finished batch report.
func (s *ReportStore) SaveReport(_ context.Context, report ingest.Report) error {
	if report.BatchID == "" {
		return errors.New("batch id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.BatchID]; !exists {
		s.order = append(s.order, report.BatchID)
	}
	s.reports[report.BatchID] = cloneReport(report)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.reports, oldest)
	}
	return nil
}

// GetReport returns a copy of the report for batchID.
func (s *ReportStore) GetReport(_ context.Context, batchID string) (ingest.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[batchID]
	if !ok {
		return ingest.Report{}, ErrReportNotFound
	}
	return cloneReport(report), nil
}

// ListBatchIDs returns stored batch IDs from oldest to newest.
func (s *ReportStore) ListBatchIDs(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func cloneReport(r ingest.Report) ingest.Report {
	r.Outcomes = append([]ingest.Outcome(nil), r.Outcomes...)
	return r
}
