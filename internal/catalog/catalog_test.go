package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

const assemblyTranscript = `{"utterances":[
	{"speaker":"A","start":0,"end":2000,"text":"Hello there."},
	{"speaker":"B","start":2500,"end":4000,"text":"Hi."}
]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newCatalog(t *testing.T) (*catalog.Catalog, string) {
	t.Helper()
	base := t.TempDir()
	return catalog.New(filepath.Join(base, "catalog"), nil), base
}

func TestAddAndResolve(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	audio := writeFile(t, base, "meeting.wav", "RIFF-audio-1")

	entry, err := cat.Add(ctx, audio, catalog.AddOptions{
		Context: "team-meeting",
		Tags:    []string{"weekly", "meeting", "weekly"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := contenthash.Sum([]byte("RIFF-audio-1"))
	if entry.Digest() != want {
		t.Fatalf("digest = %s, want %s", entry.Digest(), want)
	}
	if got := strings.Join(entry.Context.Tags, ","); got != "meeting,weekly" {
		t.Fatalf("tags = %s", got)
	}
	if _, err := os.Stat(filepath.Join(cat.Dir(), want+".yaml")); err != nil {
		t.Fatalf("expected entry file: %v", err)
	}

	for _, ref := range []string{audio, want, want[:8]} {
		got, err := cat.Resolve(ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", ref, err)
		}
		if got.Digest() != want || got.Context.Name != "team-meeting" {
			t.Fatalf("Resolve(%q) = %+v", ref, got)
		}
	}
	if _, err := cat.Resolve(want[:3]); !errors.Is(err, catalog.ErrNotInCatalog) {
		t.Fatalf("short prefix should not resolve, got %v", err)
	}
}

func TestAddDuplicateRequiresForce(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	audio := writeFile(t, base, "a.wav", "same-bytes")
	transcriptPath := writeFile(t, base, "a.json", assemblyTranscript)

	entry, err := cat.Add(ctx, audio, catalog.AddOptions{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, _, err := cat.RegisterTranscript(ctx, entry.Digest(), "assemblyai", transcriptPath); err != nil {
		t.Fatalf("RegisterTranscript: %v", err)
	}
	_, err = cat.Add(ctx, audio, catalog.AddOptions{})
	if !errors.Is(err, catalog.ErrAlreadyCatalogued) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected already catalogued, got %v", err)
	}
	if !strings.Contains(err.Error(), "already in catalog") {
		t.Fatalf("unexpected message %q", err)
	}

	forced, err := cat.Add(ctx, audio, catalog.AddOptions{Context: "redo", Force: true})
	if err != nil {
		t.Fatalf("forced Add: %v", err)
	}
	if forced.Context.Name != "redo" || len(forced.Transcriptions) != 1 {
		t.Fatalf("forced add should keep transcripts: %+v", forced)
	}
	if !forced.Recording.AddedAt.Equal(entry.Recording.AddedAt) {
		t.Fatal("forced add changed added_at")
	}
}

func TestAddMissingFile(t *testing.T) {
	cat, base := newCatalog(t)
	_, err := cat.Add(context.Background(), filepath.Join(base, "missing.wav"), catalog.AddOptions{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAmbiguousPrefix(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	// Find two payloads whose digests share a four character prefix.
	seen := map[string]string{}
	var first, second string
	for i := range 200000 {
		payload := "audio-" + strconv.Itoa(i)
		prefix := contenthash.Sum([]byte(payload))[:4]
		if other, ok := seen[prefix]; ok {
			first, second = other, payload
			break
		}
		seen[prefix] = payload
	}
	if second == "" {
		t.Skip("no prefix collision found")
	}
	a, err := cat.Add(ctx, writeFile(t, base, "one.wav", first), catalog.AddOptions{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := cat.Add(ctx, writeFile(t, base, "two.wav", second), catalog.AddOptions{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err = cat.Resolve(a.Digest()[:4])
	if !errors.Is(err, catalog.ErrAmbiguousPrefix) {
		t.Fatalf("expected ambiguous prefix, got %v", err)
	}
	if _, err := cat.Resolve(a.Digest()); err != nil {
		t.Fatalf("full digest should resolve: %v", err)
	}
}

func TestSetContextAndStatus(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	entry, err := cat.Add(ctx, writeFile(t, base, "a.wav", "bytes"), catalog.AddOptions{Tags: []string{"original"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if entry.Status(false) != catalog.StatusUnprocessed {
		t.Fatalf("expected unprocessed, got %s", entry.Status(false))
	}

	name := "team-retrospective"
	updated, err := cat.SetContext(ctx, entry.Digest(), catalog.ContextUpdate{
		Name:             &name,
		ExpectedSpeakers: catalog.SplitList("alice, bob,charlie"),
		AddTags:          []string{"new-tag"},
		RemoveTags:       []string{"ORIGINAL"},
	})
	if err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	if updated.Context.Name != name {
		t.Fatalf("name = %q", updated.Context.Name)
	}
	if got := strings.Join(updated.Context.ExpectedSpeakers, ","); got != "alice,bob,charlie" {
		t.Fatalf("expected speakers = %s", got)
	}
	if got := strings.Join(updated.Context.Tags, ","); got != "new-tag" {
		t.Fatalf("tags = %s", got)
	}

	transcriptPath := writeFile(t, base, "a.json", assemblyTranscript)
	withTranscript, reg, err := cat.RegisterTranscript(ctx, entry.Digest(), "AssemblyAI", transcriptPath)
	if err != nil {
		t.Fatalf("RegisterTranscript: %v", err)
	}
	if reg.Speakers != 2 || reg.Backend != "assemblyai" || reg.Format != "assemblyai" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if withTranscript.Status(false) != catalog.StatusTranscribed || withTranscript.Status(true) != catalog.StatusAssigned {
		t.Fatal("unexpected status progression")
	}
	// Registering the same backend again replaces the earlier entry.
	again, _, err := cat.RegisterTranscript(ctx, entry.Digest(), "assemblyai", transcriptPath)
	if err != nil {
		t.Fatalf("RegisterTranscript again: %v", err)
	}
	if len(again.Transcriptions) != 1 {
		t.Fatalf("expected one transcription, got %d", len(again.Transcriptions))
	}
	if _, ok := again.Transcript(""); !ok {
		t.Fatal("expected latest transcript")
	}
}

func TestListFiltersAndRemove(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	for i, c := range []string{"ctx-a", "ctx-b", "ctx-a"} {
		if _, err := cat.Add(ctx, writeFile(t, base, strconv.Itoa(i)+".wav", "audio-"+strconv.Itoa(i)), catalog.AddOptions{Context: c}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(cat.Dir(), "broken.yaml"), []byte("schema_version: 99\n"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}

	all, broken, err := cat.List(catalog.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || len(broken) != 1 {
		t.Fatalf("expected 3 entries and 1 broken, got %d/%d", len(all), len(broken))
	}
	onlyA, _, err := cat.List(catalog.Filter{Context: "ctx-a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(onlyA) != 2 {
		t.Fatalf("expected 2 ctx-a entries, got %d", len(onlyA))
	}

	removed, err := cat.Remove(ctx, all[0].Digest())
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	removed, err = cat.Remove(ctx, all[0].Digest())
	if err != nil || removed {
		t.Fatalf("second Remove = %v, %v", removed, err)
	}
	if _, err := cat.Get(all[0].Digest()); !errors.Is(err, catalog.ErrNotInCatalog) {
		t.Fatalf("expected not in catalog, got %v", err)
	}
}

func TestQueryEntries(t *testing.T) {
	cat, base := newCatalog(t)
	ctx := context.Background()
	for i, c := range []string{"meeting", "interview", "meeting"} {
		if _, err := cat.Add(ctx, writeFile(t, base, strconv.Itoa(i)+".wav", "q-"+strconv.Itoa(i)), catalog.AddOptions{Context: c}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	out, err := cat.QueryEntries(ctx, `[.[] | select(.context.name == "meeting")] | length`)
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(out) != 1 || out[0] != 2 {
		t.Fatalf("unexpected query result %#v", out)
	}
	digests, err := cat.QueryEntries(ctx, `.[].recording.b3sum`)
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(digests) != 3 {
		t.Fatalf("expected 3 digests, got %v", digests)
	}
	if _, err := cat.QueryEntries(ctx, `.[`); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
