package store_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"prct/prct/api"
	"prct/prct/schema"
	"prct/prct/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testManager(t *testing.T) *store.Manager {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&schema.RetractedWork{}, &schema.Citation{}, &schema.FetchLog{}); err != nil {
		t.Fatal(err)
	}
	return store.NewManager(db)
}

func date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func sampleResult(succeeded bool) api.FetchResult {
	offset := 10
	status := api.SourceStatus{Succeeded: succeeded, Candidates: 1, Attempts: 1}
	if !succeeded {
		status = api.SourceStatus{Attempts: 5, Error: "source unreachable"}
	}
	return api.FetchResult{
		Doi: "10.1234/abc",
		Citations: []api.Citation{
			{
				Doi:            "10.1/a",
				Title:          "a citing work",
				Date:           *date(2021, 1, 11),
				DatePrecision:  api.PrecisionDay,
				Sources:        []string{api.OpenAlexSource},
				Classification: api.Classification{OffsetDays: &offset, Bucket: api.BucketWithin30Days},
			},
		},
		SourceStatus: map[string]api.SourceStatus{api.OpenAlexSource: status},
	}
}

func TestUpsertRetractedWork(t *testing.T) {
	manager := testManager(t)

	id, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: "10.1234/abc", Title: "original title"})
	if err != nil {
		t.Fatal(err)
	}

	work, err := manager.GetWorkByDoi("10.1234/abc")
	if err != nil {
		t.Fatal(err)
	}
	if work.Id != id || work.Title != "original title" || work.RetractionDate != nil {
		t.Fatalf("incorrect stored work: %+v", work)
	}

	// A second upsert for the same doi fills in new fields and keeps the id.
	again, err := manager.UpsertRetractedWork(api.RetractedWork{
		Doi:            "10.1234/abc",
		RetractionDate: date(2021, 1, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Fatalf("upsert should preserve the work id, got %v and %v", id, again)
	}

	work, err = manager.GetWorkByDoi("10.1234/abc")
	if err != nil {
		t.Fatal(err)
	}
	if work.Title != "original title" {
		t.Fatalf("empty update fields must not clobber, got title '%s'", work.Title)
	}
	if work.RetractionDate == nil || !work.RetractionDate.Equal(*date(2021, 1, 1)) {
		t.Fatalf("retraction date not picked up: %+v", work)
	}
}

func TestGetWorkByDoiNotFound(t *testing.T) {
	manager := testManager(t)

	if _, err := manager.GetWorkByDoi("10.9999/nope"); !errors.Is(err, store.ErrWorkNotFound) {
		t.Fatalf("expected ErrWorkNotFound, got %v", err)
	}
}

func TestClaimNextQueuedWorks(t *testing.T) {
	manager := testManager(t)

	for _, doi := range []string{"10.1/a", "10.1/b", "10.1/c"} {
		if _, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: doi}); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := manager.ClaimNextQueuedWorks(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed works, got %d", len(claimed))
	}

	// Claimed works are in progress; a second claim only sees the remainder.
	rest, err := manager.ClaimNextQueuedWorks(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining queued work, got %d", len(rest))
	}

	if more, _ := manager.ClaimNextQueuedWorks(10); len(more) != 0 {
		t.Fatalf("queue should be drained, got %d", len(more))
	}
}

func TestRequeueWork(t *testing.T) {
	manager := testManager(t)

	id, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: "10.1/a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.ClaimNextQueuedWorks(1); err != nil {
		t.Fatal(err)
	}

	if err := manager.RequeueWork(id); err != nil {
		t.Fatal(err)
	}

	claimed, err := manager.ClaimNextQueuedWorks(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Id != id {
		t.Fatalf("requeued work should be claimable again, got %+v", claimed)
	}
}

func TestSaveFetchResult(t *testing.T) {
	manager := testManager(t)

	id, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: "10.1234/abc", RetractionDate: date(2021, 1, 1)})
	if err != nil {
		t.Fatal(err)
	}

	if err := manager.SaveFetchResult(id, sampleResult(true)); err != nil {
		t.Fatal(err)
	}

	stored, err := manager.ListCitations(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored citation, got %d", len(stored))
	}

	citation := stored[0]
	if citation.Doi != "10.1/a" ||
		citation.Classification.Bucket != api.BucketWithin30Days ||
		citation.Classification.OffsetDays == nil || *citation.Classification.OffsetDays != 10 ||
		len(citation.Sources) != 1 || citation.Sources[0] != api.OpenAlexSource {
		t.Fatalf("incorrect stored citation: %+v", citation)
	}

	// Re-saving the same result upserts rather than duplicating.
	if err := manager.SaveFetchResult(id, sampleResult(true)); err != nil {
		t.Fatal(err)
	}
	stored, err = manager.ListCitations(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("re-save should upsert, got %d citations", len(stored))
	}

	// The work left the queue.
	if claimed, _ := manager.ClaimNextQueuedWorks(10); len(claimed) != 0 {
		t.Fatalf("completed work should not be claimable, got %d", len(claimed))
	}
}

func TestSaveFetchResultAllSourcesFailed(t *testing.T) {
	manager := testManager(t)

	id, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: "10.1234/abc"})
	if err != nil {
		t.Fatal(err)
	}

	result := sampleResult(false)
	result.Citations = nil

	if err := manager.SaveFetchResult(id, result); err != nil {
		t.Fatal(err)
	}

	// Failed works are out of the queue until explicitly requeued.
	if claimed, _ := manager.ClaimNextQueuedWorks(10); len(claimed) != 0 {
		t.Fatalf("failed work should not be claimable, got %d", len(claimed))
	}

	if err := manager.RequeueWork(id); err != nil {
		t.Fatal(err)
	}
	if claimed, _ := manager.ClaimNextQueuedWorks(10); len(claimed) != 1 {
		t.Fatal("requeued failed work should be claimable")
	}
}

func TestSaveFetchResultUnknownWork(t *testing.T) {
	manager := testManager(t)

	if err := manager.SaveFetchResult(uuid.New(), sampleResult(true)); !errors.Is(err, store.ErrWorkNotFound) {
		t.Fatalf("expected ErrWorkNotFound, got %v", err)
	}
}

func TestMarkFetchFailed(t *testing.T) {
	manager := testManager(t)

	id, err := manager.UpsertRetractedWork(api.RetractedWork{Doi: "10.1/a"})
	if err != nil {
		t.Fatal(err)
	}

	if err := manager.MarkFetchFailed(id); err != nil {
		t.Fatal(err)
	}

	if claimed, _ := manager.ClaimNextQueuedWorks(10); len(claimed) != 0 {
		t.Fatal("failed work should not be claimable")
	}
}
