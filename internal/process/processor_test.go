package process_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/process"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/queue"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const aliceAndBob = `{"utterances":[
	{"speaker":"A","start":0,"end":3000,"text":"Hi everyone, this is Alice."},
	{"speaker":"B","start":3500,"end":6000,"text":"Bob here, thanks for having me."}
]}`

type fixture struct {
	catalog   *catalog.Catalog
	queue     *queue.Store
	processor *process.Processor
	hasher    *testsupport.CountingHasher
	media     string
	recording string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["0.00-3.00"] = "alice-voice"
	fb.Voices["3.50-6.00"] = "bob-voice"
	testsupport.NewIdentity(t, st, "alice", "Alice")
	testsupport.NewIdentity(t, st, "bob", "Bob")
	testsupport.NewEmbedding(t, st, "alice", "fake", "alice-voice", trust.High)
	testsupport.NewEmbedding(t, st, "bob", "fake", "bob-voice", trust.High)

	resolver, err := assign.New(cfg, st, fb)
	if err != nil {
		t.Fatalf("assign.New: %v", err)
	}
	q, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	hasher := &testsupport.CountingHasher{}
	cat := catalog.New(cfg.Paths.CatalogDir, nil, catalog.WithHasher(hasher))
	media := filepath.Join(testsupport.BaseDir(cfg), "media")
	recording := testsupport.WriteRecording(t, filepath.Join(media, "meeting.wav"), "meeting")
	testsupport.WriteTranscript(t, filepath.Join(media, "meeting.json"), aliceAndBob)

	return fixture{
		catalog:   cat,
		queue:     q,
		processor: process.New(cat, resolver, process.WithHasher(hasher)),
		hasher:    hasher,
		media:     media,
		recording: recording,
	}
}

func TestProcessCataloguesRegistersAndAssigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.processor.Process(ctx, process.Job{Path: f.recording, Context: "standup"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.Catalogued || !out.Registered || !out.Persisted {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Labels != 2 || out.Assigned != 2 {
		t.Fatalf("expected both labels assigned, got %+v", out)
	}
	if out.Digest != contenthash.Sum([]byte("RIFF-meeting")) {
		t.Fatalf("unexpected digest %s", out.Digest)
	}
	if f.hasher.Files() == 0 {
		t.Fatal("expected the catalog to hash through the injected hasher")
	}

	entry, err := f.catalog.Resolve(f.recording)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry.Context.Name != "standup" {
		t.Fatalf("context = %q", entry.Context.Name)
	}
	if tr, ok := entry.Transcript("assemblyai"); !ok || tr.Path != filepath.Join(f.media, "meeting.json") {
		t.Fatalf("sidecar not registered under its format: %+v", entry.Transcriptions)
	}

	again, err := f.processor.Process(ctx, process.Job{Path: f.recording, Context: "retro"})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if again.Catalogued || again.Registered || !again.ContextSet {
		t.Fatalf("expected reuse of the catalog entry with a new context, got %+v", again)
	}
}

func TestProcessDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)

	out, err := f.processor.Process(context.Background(), process.Job{Path: f.recording, DryRun: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.DryRun || !out.Catalogued || !out.Registered || out.Persisted {
		t.Fatalf("unexpected dry-run outcome %+v", out)
	}
	entries, _, err := f.catalog.List(catalog.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run catalogued %d recording(s)", len(entries))
	}
}

func TestProcessPrefersProviderSidecar(t *testing.T) {
	f := newFixture(t)
	named := testsupport.WriteTranscript(t, filepath.Join(f.media, "meeting.assemblyai.json"), aliceAndBob)

	out, err := f.processor.Process(context.Background(), process.Job{Path: f.recording, Provider: "AssemblyAI", DryRun: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Transcript != named {
		t.Fatalf("transcript = %s, want %s", out.Transcript, named)
	}
}

func TestProcessErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lonely := testsupport.WriteRecording(t, filepath.Join(f.media, "lonely.wav"), "lonely")
	out, err := f.processor.Process(ctx, process.Job{Path: lonely})
	if !errors.Is(err, process.ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if out == nil || !out.Catalogued {
		t.Fatalf("expected the recording to stay catalogued, got %+v", out)
	}

	notes := testsupport.WriteTranscript(t, filepath.Join(f.media, "notes.txt"), "minutes")
	if _, err := f.processor.Process(ctx, process.Job{Path: notes}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for non-audio file, got %v", err)
	}
	if _, err := f.processor.Process(ctx, process.Job{Path: filepath.Join(f.media, "gone.wav")}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteRecording(t, filepath.Join(dir, "a.wav"), "a")
	testsupport.WriteRecording(t, filepath.Join(dir, "b.MP3"), "b")
	testsupport.WriteRecording(t, filepath.Join(dir, "sub", "c.flac"), "c")
	testsupport.WriteTranscript(t, filepath.Join(dir, "notes.txt"), "minutes")

	flat, err := process.Discover(dir, false)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if want := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.MP3")}; !slices.Equal(flat, want) {
		t.Fatalf("Discover = %v, want %v", flat, want)
	}
	deep, err := process.Discover(dir, true)
	if err != nil {
		t.Fatalf("Discover recursive: %v", err)
	}
	if len(deep) != 3 {
		t.Fatalf("expected 3 files, got %v", deep)
	}
	if _, err := process.Discover(filepath.Join(dir, "notes.txt"), false); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected non-audio file to be rejected, got %v", err)
	}
	if _, err := process.Discover(filepath.Join(dir, "missing"), false); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected missing path to be not found, got %v", err)
	}
}

func TestRunRecordsEachOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lonely := testsupport.WriteRecording(t, filepath.Join(f.media, "lonely.wav"), "lonely")

	items, added, err := f.processor.Enqueue(ctx, f.queue, []string{f.recording, lonely}, "standup", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if added != 2 || len(items) != 2 {
		t.Fatalf("expected 2 new items, got %d of %d", added, len(items))
	}
	if _, added, _ = f.processor.Enqueue(ctx, f.queue, []string{f.recording}, "standup", ""); added != 0 {
		t.Fatalf("re-queueing added %d item(s)", added)
	}

	preview, err := f.processor.Run(ctx, f.queue, process.RunOptions{DryRun: true, Limit: 1}, nil)
	if err != nil {
		t.Fatalf("dry Run: %v", err)
	}
	if len(preview.Items) != 1 || preview.Completed != 0 {
		t.Fatalf("unexpected dry-run summary %+v", preview)
	}

	var seen []string
	summary, err := f.processor.Run(ctx, f.queue, process.RunOptions{}, func(r process.ItemResult) {
		seen = append(seen, filepath.Base(r.Item.SourcePath))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !slices.Equal(seen, []string{"meeting.wav", "lonely.wav"}) {
		t.Fatalf("progress order = %v", seen)
	}

	failed, err := f.queue.List(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || !strings.Contains(failed[0].ErrorMessage, "no transcript") {
		t.Fatalf("unexpected failed items %+v", failed)
	}
	done, err := f.queue.List(ctx, queue.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(done) != 1 || done[0].Context != "standup" {
		t.Fatalf("unexpected completed items %+v", done)
	}

	again, err := f.processor.Run(ctx, f.queue, process.RunOptions{}, nil)
	if err != nil {
		t.Fatalf("empty Run: %v", err)
	}
	if len(again.Items) != 0 {
		t.Fatalf("expected nothing left to run, got %+v", again.Items)
	}
}

func TestRunHonoursLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testsupport.WriteRecording(t, filepath.Join(f.media, "other.wav"), "other")
	testsupport.WriteTranscript(t, filepath.Join(f.media, "other.json"), aliceAndBob)
	if _, _, err := f.processor.Enqueue(ctx, f.queue, []string{f.recording, other}, "", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	summary, err := f.processor.Run(ctx, f.queue, process.RunOptions{Limit: 1}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 || len(summary.Items) != 1 {
		t.Fatalf("expected a single item processed, got %+v", summary)
	}
	pending, err := f.queue.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || filepath.Base(pending[0].SourcePath) != "other.wav" {
		t.Fatalf("unexpected pending items %+v", pending)
	}
}
