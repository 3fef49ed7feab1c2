package ingest

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchRequest identifies one URL to ingest. It is immutable once created.
type FetchRequest struct {
	URL     string
	BatchID string
	Headers http.Header
}

// Validate reports whether the request names a fetchable http(s) URL.
func (r FetchRequest) Validate() error {
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// ResolvedName is the filename chosen for a URL before its content is known.
type ResolvedName struct {
	Filename        string `json:"filename"`
	DerivedFromHash bool   `json:"derived_from_hash"`
}

// FetchResponse is the raw result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FetchedContent is a validated download owned by the pipeline step that fetched it.
type FetchedContent struct {
	Body        []byte
	ContentType string
	ContentHash string
	StatusCode  int
	FinalURL    string
	Duration    time.Duration
}

// StoreEntry describes one object known to exist in the destination store.
type StoreEntry struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
}

// OutcomeKind tags the terminal state reached for one URL.
type OutcomeKind string

// Outcome kinds reported per URL.
const (
	OutcomeFetched          OutcomeKind = "fetched"
	OutcomeSkippedNotImage  OutcomeKind = "skipped_not_image"
	OutcomeSkippedDuplicate OutcomeKind = "skipped_duplicate"
	OutcomeFailed           OutcomeKind = "failed"
)

// Outcome is the tagged result of processing one FetchRequest.
type Outcome struct {
	Index       int           `json:"index"`
	URL         string        `json:"url"`
	Kind        OutcomeKind   `json:"kind"`
	Path        string        `json:"path,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Bytes       int64         `json:"bytes,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}

// Fetched builds the outcome for a persisted image.
func Fetched(rawURL string, entry StoreEntry, path string, content FetchedContent) Outcome {
	return Outcome{
		URL:         rawURL,
		Kind:        OutcomeFetched,
		Path:        path,
		Filename:    entry.Filename,
		ContentType: content.ContentType,
		ContentHash: entry.ContentHash,
		Bytes:       int64(len(content.Body)),
		Duration:    content.Duration,
	}
}

// SkippedNotImage builds the outcome for a response whose content type is not an image.
func SkippedNotImage(rawURL, contentType string) Outcome {
	return Outcome{
		URL:         rawURL,
		Kind:        OutcomeSkippedNotImage,
		ContentType: contentType,
	}
}

// SkippedDuplicate builds the outcome for content already present under filename.
func SkippedDuplicate(rawURL string, entry StoreEntry) Outcome {
	return Outcome{
		URL:         rawURL,
		Kind:        OutcomeSkippedDuplicate,
		Filename:    entry.Filename,
		ContentHash: entry.ContentHash,
	}
}

// Failed builds the outcome for a hard failure; err is classified into an ErrorKind.
func Failed(rawURL string, err error) Outcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		URL:       rawURL,
		Kind:      OutcomeFailed,
		ErrorKind: Classify(err),
		Message:   msg,
	}
}

// IsFailure reports whether the outcome is a hard failure rather than a benign skip.
func (o Outcome) IsFailure() bool {
	return o.Kind == OutcomeFailed
}

// Counts aggregates outcomes by kind.
type Counts struct {
	Fetched          int `json:"fetched"`
	SkippedNotImage  int `json:"skipped_not_image"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Failed           int `json:"failed"`
}

// Total returns the number of outcomes counted.
func (c Counts) Total() int {
	return c.Fetched + c.SkippedNotImage + c.SkippedDuplicate + c.Failed
}

// Add counts a single outcome.
func (c *Counts) Add(o Outcome) {
	switch o.Kind {
	case OutcomeFetched:
		c.Fetched++
	case OutcomeSkippedNotImage:
		c.SkippedNotImage++
	case OutcomeSkippedDuplicate:
		c.SkippedDuplicate++
	case OutcomeFailed:
		c.Failed++
	}
}

// Report is the structured summary of one batch, ordered by input index.
type Report struct {
	BatchID    string    `json:"batch_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Counts     Counts    `json:"counts"`
	Outcomes   []Outcome `json:"outcomes"`
}

// NewReport builds a report over outcomes and derives its counts.
func NewReport(batchID string, started, finished time.Time, outcomes []Outcome) Report {
	r := Report{
		BatchID:    batchID,
		StartedAt:  started,
		FinishedAt: finished,
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		r.Counts.Add(o)
	}
	return r
}

// Failures returns the hard failures a caller may want to retry.
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.IsFailure() {
			out = append(out, o)
		}
	}
	return out
}

// Elapsed returns the wall time of the batch.
func (r Report) Elapsed() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
