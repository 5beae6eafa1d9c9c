package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied migrations = %v, want 2 entries", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_performance_metrics_recorded_at", "idx_survey_answers_key"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestInsertAndGetMetric(t *testing.T) {
	s := openTestStore(t)

	recorded := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.InsertMetric(ctx, PerformanceMetric{
		SenderID:              "5511999999999@c.us",
		ImageID:               "img-1",
		DescriptionDurationMs: 1200,
		SynthesisDurationMs:   800,
		DeliveryDurationMs:    150,
		TotalDurationMs:       2150,
		RecordedAt:            recorded,
	})
	if err != nil {
		t.Fatalf("InsertMetric: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d, want positive", id)
	}

	got, err := s.GetMetric(ctx, id)
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if got.SenderID != "5511999999999@c.us" {
		t.Errorf("SenderID = %q", got.SenderID)
	}
	if got.TotalDurationMs != 2150 {
		t.Errorf("TotalDurationMs = %d, want 2150", got.TotalDurationMs)
	}
	if got.Anomaly {
		t.Error("Anomaly = true, want false")
	}
	if !got.RecordedAt.Equal(recorded) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, recorded)
	}
}

func TestGetMetricNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetMetric(ctx, 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertMetric_NegativeDurationStoredAsIs(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertMetric(ctx, PerformanceMetric{
		SenderID:              "a",
		DescriptionDurationMs: -5,
		TotalDurationMs:       10,
		Anomaly:               true,
	})
	if err != nil {
		t.Fatalf("InsertMetric: %v", err)
	}
	got, err := s.GetMetric(ctx, id)
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if got.DescriptionDurationMs != -5 {
		t.Errorf("DescriptionDurationMs = %d, want -5", got.DescriptionDurationMs)
	}
	if !got.Anomaly {
		t.Error("Anomaly = false, want true")
	}
	if got.RecordedAt.IsZero() {
		t.Error("RecordedAt was not defaulted")
	}
}

func TestListMetrics_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := 1; i <= 5; i++ {
		if _, err := s.InsertMetric(ctx, PerformanceMetric{SenderID: fmt.Sprintf("s%d", i), TotalDurationMs: int64(i)}); err != nil {
			t.Fatalf("InsertMetric %d: %v", i, err)
		}
	}

	got, err := s.ListMetrics(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].SenderID != "s5" || got[2].SenderID != "s3" {
		t.Errorf("order = %q..%q, want s5..s3", got[0].SenderID, got[2].SenderID)
	}

	page2, err := s.ListMetrics(ctx, 3, 3)
	if err != nil {
		t.Fatalf("ListMetrics offset: %v", err)
	}
	if len(page2) != 2 {
		t.Errorf("page2 len = %d, want 2", len(page2))
	}
}

func TestSummarizeMetrics(t *testing.T) {
	s := openTestStore(t)

	empty, err := s.SummarizeMetrics(ctx)
	if err != nil {
		t.Fatalf("SummarizeMetrics on empty store: %v", err)
	}
	if empty.Count != 0 {
		t.Errorf("Count = %d, want 0", empty.Count)
	}

	s.InsertMetric(ctx, PerformanceMetric{SenderID: "a", TotalDurationMs: 100, DescriptionDurationMs: 60})
	s.InsertMetric(ctx, PerformanceMetric{SenderID: "b", TotalDurationMs: 300, DescriptionDurationMs: 20, Anomaly: true})

	sum, err := s.SummarizeMetrics(ctx)
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if sum.Count != 2 {
		t.Errorf("Count = %d, want 2", sum.Count)
	}
	if sum.Anomalies != 1 {
		t.Errorf("Anomalies = %d, want 1", sum.Anomalies)
	}
	if sum.AvgTotalMs != 200 {
		t.Errorf("AvgTotalMs = %v, want 200", sum.AvgTotalMs)
	}
	if sum.AvgDescribeMs != 40 {
		t.Errorf("AvgDescribeMs = %v, want 40", sum.AvgDescribeMs)
	}
}

func TestSurveyAnswers_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	for q := 1; q <= 3; q++ {
		if _, err := s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u1", ImageID: "img", QuestionNumber: q, Score: q + 1}); err != nil {
			t.Fatalf("InsertSurveyAnswer q%d: %v", q, err)
		}
	}
	// Different key must not leak into the listing.
	s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u2", ImageID: "img", QuestionNumber: 1, Score: 5})

	got, err := s.ListSurveyAnswers(ctx, "u1", "img")
	if err != nil {
		t.Fatalf("ListSurveyAnswers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, a := range got {
		if a.QuestionNumber != i+1 {
			t.Errorf("answer[%d].QuestionNumber = %d, want %d", i, a.QuestionNumber, i+1)
		}
		if a.Score != i+2 {
			t.Errorf("answer[%d].Score = %d, want %d", i, a.Score, i+2)
		}
	}
}

func TestSurveyAnswers_DuplicatesPersisted(t *testing.T) {
	s := openTestStore(t)

	s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u1", ImageID: "img", QuestionNumber: 1, Score: 3})
	s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u1", ImageID: "img", QuestionNumber: 1, Score: 4})

	rows, err := s.ListSurveyAnswers(ctx, "u1", "img")
	if err != nil {
		t.Fatalf("ListSurveyAnswers: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2 (duplicates are kept)", len(rows))
	}

	n, err := s.CountAnsweredQuestions(ctx, "u1", "img")
	if err != nil {
		t.Fatalf("CountAnsweredQuestions: %v", err)
	}
	if n != 1 {
		t.Errorf("distinct answered = %d, want 1", n)
	}
}

func TestSurveyAnswers_RangeEnforcedBySchema(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u", ImageID: "i", QuestionNumber: 6, Score: 3}); err == nil {
		t.Error("expected CHECK violation for question_number 6")
	}
	if _, err := s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: "u", ImageID: "i", QuestionNumber: 1, Score: 0}); err == nil {
		t.Error("expected CHECK violation for score 0")
	}
}

func TestConcurrentInserts(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.InsertMetric(ctx, PerformanceMetric{SenderID: fmt.Sprintf("s%d", i)}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.InsertSurveyAnswer(ctx, SurveyAnswer{SenderID: fmt.Sprintf("s%d", i), ImageID: "img", QuestionNumber: 1, Score: 1}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	sum, err := s.SummarizeMetrics(ctx)
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if sum.Count != 20 {
		t.Errorf("Count = %d, want 20", sum.Count)
	}
}
