package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analyses.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleState(id string, started time.Time) clinical.State {
	st := clinical.NewState(clinical.PatientInput{Symptoms: "thirst", Age: "45", History: "obesity"})
	st.Metadata.RunID = id
	st.Metadata.Status = clinical.RunCompleted
	st.Metadata.StartedAt = started
	st.Metadata.Degraded = true
	st.Literature = &clinical.Literature{
		Query:      "thirst",
		Articles:   clinical.LiteratureArticles{Kind: clinical.ArticlesRaw, Summaries: []clinical.ArticleSummary{{PMID: "1", Title: "t", Summary: "s"}}},
		Disclaimer: clinical.DisclaimerLiterature,
	}
	st.Summary = &clinical.Summary{
		PatientSummary:  "p",
		Recommendations: []clinical.Recommendation{},
		Citations:       clinical.Citations{PMIDs: []string{"1"}, Sources: []string{}},
	}
	return *st
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := sampleState("run-1", started)
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata.RunID != "run-1" || got.MedicalHistoryText() != "obesity" || got.AgeText() != "45" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if diff := cmp.Diff(want.Summary, got.Summary); diff != "" {
		t.Fatalf("summary (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Literature.Articles.Summaries, got.Literature.Articles.Summaries); diff != "" {
		t.Fatalf("literature (-want +got):\n%s", diff)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRequiresRunID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(context.Background(), sampleState(" ", time.Now())); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestSaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	st := sampleState("run-1", time.Now())
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Metadata.Status = clinical.RunFaulted
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("save again: %v", err)
	}
	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != string(clinical.RunFaulted) {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, sampleState(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := []string{}
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if !list[0].CreatedAt.Equal(base.Add(2*time.Hour)) || !list[0].Degraded || list[0].Symptoms != "thirst" {
		t.Fatalf("entry: %+v", list[0])
	}
}

func TestListSkipsRowsWithBadTimestamp(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := Open(filepath.Join(t.TempDir(), "analyses.db"), WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	if err := s.Save(ctx, sampleState("good", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO analyses (id, created_at, status, degraded, symptoms, state_json)
		VALUES ('broken', 'yesterday', 'completed', 0, 'cough', '{}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "good" {
		t.Fatalf("list: %+v", list)
	}
	if logs.FilterMessage("archive_row_skipped").Len() != 1 {
		t.Fatalf("expected one skip warning, got %v", logs.All())
	}
}
