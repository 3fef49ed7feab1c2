package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

func TestReportStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewReportStore(0)
	ctx := context.Background()
	report := ingest.Report{
		BatchID:  "batch-1",
		Outcomes: []ingest.Outcome{{URL: "https://example.test/a.png", Kind: ingest.OutcomeFetched}},
	}

	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}
	if err := store.SaveReport(ctx, ingest.Report{}); err == nil {
		t.Fatal("expected error for missing batch id")
	}

	got, err := store.GetReport(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	got.Outcomes[0].URL = "modified"
	again, err := store.GetReport(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetReport() repeat error = %v", err)
	}
	if again.Outcomes[0].URL != "https://example.test/a.png" {
		t.Fatal("expected GetReport to return a copy")
	}

	if _, err := store.GetReport(ctx, "missing"); err != ErrReportNotFound {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestReportStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewReportStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.SaveReport(ctx, ingest.Report{BatchID: id}); err != nil {
			t.Fatalf("SaveReport(%s) error = %v", id, err)
		}
	}
	if _, err := store.GetReport(ctx, "a"); err != ErrReportNotFound {
		t.Fatalf("expected oldest report evicted, got %v", err)
	}
	ids := store.ListBatchIDs(ctx)
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("unexpected batch ids %v", ids)
	}
}
