// Package report renders batch reports for people and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// Options tunes text rendering.
type Options struct {
	// Verbose lists every outcome, not only failures.
	Verbose bool
}

// WriteText renders a human-readable summary: counts, then failures so they
// can be retried, then (verbose) each outcome in input order.
func WriteText(w io.Writer, r ingest.Report, opts Options) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s finished in %s (%d urls)\n", r.BatchID, r.Elapsed().Round(time.Millisecond), r.Counts.Total())
	fmt.Fprintf(&b, "  fetched:           %d\n", r.Counts.Fetched)
	fmt.Fprintf(&b, "  skipped (not image): %d\n", r.Counts.SkippedNotImage)
	fmt.Fprintf(&b, "  skipped (duplicate): %d\n", r.Counts.SkippedDuplicate)
	fmt.Fprintf(&b, "  failed:            %d\n", r.Counts.Failed)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if failures := r.Failures(); len(failures) > 0 {
		if _, err := io.WriteString(w, "\nFailures:\n"); err != nil {
			return fmt.Errorf("write failures: %w", err)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, o := range failures {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", o.Index, o.ErrorKind, o.URL, o.Message)
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("write failures: %w", err)
		}
	}

	if !opts.Verbose || len(r.Outcomes) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "\nOutcomes:\n"); err != nil {
		return fmt.Errorf("write outcomes: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range r.Outcomes {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", o.Index, o.Kind, o.URL, detail(o))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write outcomes: %w", err)
	}
	return nil
}

func detail(o ingest.Outcome) string {
	switch o.Kind {
	case ingest.OutcomeFetched:
		return fmt.Sprintf("%s (%d bytes)", o.Path, o.Bytes)
	case ingest.OutcomeSkippedDuplicate:
		return "already stored as " + o.Filename
	case ingest.OutcomeSkippedNotImage:
		return "content type " + quoteEmpty(o.ContentType)
	default:
		return string(o.ErrorKind) + ": " + o.Message
	}
}

func quoteEmpty(s string) string {
	if s == "" {
		return `""`
	}
	return s
}

// WriteJSON encodes r as indented JSON.
func WriteJSON(w io.Writer, r ingest.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
