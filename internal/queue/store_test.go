package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/queue"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
)

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if st.Path() != cfg.QueuePath() {
		t.Fatalf("unexpected queue path %s", st.Path())
	}
	return st
}

func TestEnqueueIsKeyedByDigest(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	item, created, err := st.Enqueue(ctx, queue.EnqueueRequest{SourcePath: "/a/one.wav", RecordingDigest: "d1", Context: "standup"})
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}
	if item.Status != queue.StatusPending || item.Context != "standup" {
		t.Fatalf("unexpected item %+v", item)
	}

	again, created, err := st.Enqueue(ctx, queue.EnqueueRequest{SourcePath: "/b/one.wav", RecordingDigest: "d1", Backend: "fake"})
	if err != nil || created {
		t.Fatalf("re-Enqueue: created=%v err=%v", created, err)
	}
	if again.ID != item.ID || again.SourcePath != "/b/one.wav" || again.Context != "" || again.Backend != "fake" {
		t.Fatalf("expected the existing row to be updated, got %+v", again)
	}

	items, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}

	if _, _, err := st.Enqueue(ctx, queue.EnqueueRequest{SourcePath: "/x.wav"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClaimUpdateAndSummary(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	for _, digest := range []string{"d1", "d2", "d3"} {
		if _, _, err := st.Enqueue(ctx, queue.EnqueueRequest{SourcePath: "/rec/" + digest + ".wav", RecordingDigest: digest}); err != nil {
			t.Fatalf("Enqueue %s: %v", digest, err)
		}
	}

	first, err := st.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if first.RecordingDigest != "d1" || first.Status != queue.StatusProcessing || first.Attempts != 1 {
		t.Fatalf("unexpected claimed item %+v", first)
	}
	first.SetCompleted()
	if err := st.Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second, err := st.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	second.SetFailed("no transcript")
	if err := st.Update(ctx, second); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := st.Claim(ctx); err != nil {
		t.Fatalf("Claim third: %v", err)
	}

	summary, err := st.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := queue.Summary{Total: 3, Processing: 1, Completed: 1, Failed: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}

	failed, err := st.List(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "no transcript" {
		t.Fatalf("unexpected failed items %+v", failed)
	}

	reset, err := st.ResetProcessing(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("ResetProcessing = %d, %v", reset, err)
	}
	next, err := st.Claim(ctx)
	if err != nil || next == nil || next.RecordingDigest != "d3" || next.Attempts != 2 {
		t.Fatalf("expected d3 reclaimed on its second attempt, got %+v (%v)", next, err)
	}
	empty, err := st.Claim(ctx)
	if err != nil || empty != nil {
		t.Fatalf("expected empty queue, got %+v (%v)", empty, err)
	}
}

func TestClearByStatus(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	for _, digest := range []string{"d1", "d2"} {
		if _, _, err := st.Enqueue(ctx, queue.EnqueueRequest{SourcePath: "/rec/" + digest + ".wav", RecordingDigest: digest}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	item, err := st.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	item.SetCompleted()
	if err := st.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	removed, err := st.Clear(ctx, queue.StatusCompleted)
	if err != nil || removed != 1 {
		t.Fatalf("Clear completed = %d, %v", removed, err)
	}
	removed, err = st.Clear(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Clear all = %d, %v", removed, err)
	}
}

func TestReopenKeepsItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	st, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, _, err := st.Enqueue(context.Background(), queue.EnqueueRequest{SourcePath: "/a.wav", RecordingDigest: "d1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_ = st.Close()

	st, err = queue.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	item, err := st.GetByDigest(context.Background(), "d1")
	if err != nil || item == nil {
		t.Fatalf("expected item to survive reopen, got %+v (%v)", item, err)
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := queue.ParseStatus(" Failed "); !ok || s != queue.StatusFailed {
		t.Fatalf("ParseStatus(Failed) = %q, %v", s, ok)
	}
	if _, ok := queue.ParseStatus("ripping"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if len(queue.AllStatuses()) != 4 {
		t.Fatalf("unexpected statuses %v", queue.AllStatuses())
	}
}
