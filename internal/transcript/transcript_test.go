package transcript

import (
	"errors"
	"slices"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

const assemblyJSON = `{
  "utterances": [
    {"speaker": "A", "start": 0, "end": 2000, "text": "Hi, this is Alice."},
    {"speaker": "B", "start": 2500, "end": 4000, "text": "Bob here."},
    {"speaker": "A", "start": 4200, "end": 4400, "text": "Mm."},
    {"speaker": "A", "start": 4500, "end": 6000, "text": "So today"},
    {"speaker": "A", "start": 6500, "end": 8000, "text": "we talk."}
  ]
}`

const speechmaticsJSON = `{
  "results": [
    {"type": "word", "start_time": 0.0, "end_time": 0.4, "alternatives": [{"content": "Hello", "speaker": "S1"}]},
    {"type": "word", "start_time": 0.5, "end_time": 1.0, "alternatives": [{"content": "there", "speaker": "S1"}]},
    {"type": "punctuation", "start_time": 1.0, "end_time": 1.0, "alternatives": [{"content": "."}]},
    {"type": "word", "start_time": 1.2, "end_time": 2.0, "speaker": "S2", "alternatives": [{"content": "Hi"}]},
    {"type": "word", "start_time": 2.5, "end_time": 3.0, "alternatives": [{"content": "Back", "speaker": "S1"}]}
  ]
}`

func TestDetectAndParseAssemblyAI(t *testing.T) {
	tr, err := Parse([]byte(assemblyJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tr.Format != FormatAssemblyAI {
		t.Fatalf("format = %s", tr.Format)
	}
	if !slices.Equal(tr.Speakers(), []string{"A", "B"}) {
		t.Fatalf("speakers = %v", tr.Speakers())
	}
	raw := tr.RawSegments("A")
	if len(raw) != 4 || raw[0] != (speaker.Segment{Start: 0, End: 2}) {
		t.Fatalf("raw segments = %v", raw)
	}
	merged := tr.Segments("A")
	if len(merged) != 2 {
		t.Fatalf("expected two merged segments, got %+v", merged)
	}
	if merged[1].Start != 4.5 || merged[1].End != 8 || merged[1].Text != "So today we talk." {
		t.Fatalf("unexpected merge %+v", merged[1])
	}
	if len(tr.Digest) != 32 {
		t.Fatalf("expected digest, got %q", tr.Digest)
	}
}

func TestDetectAndParseSpeechmatics(t *testing.T) {
	tr, err := Parse([]byte(speechmaticsJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tr.Format != FormatSpeechmatics {
		t.Fatalf("format = %s", tr.Format)
	}
	if !slices.Equal(tr.Speakers(), []string{"S1", "S2"}) {
		t.Fatalf("speakers = %v", tr.Speakers())
	}
	raw := tr.RawSegments("S1")
	want := []speaker.Segment{{Start: 0, End: 1}, {Start: 2.5, End: 3}}
	if !slices.Equal(raw, want) {
		t.Fatalf("raw segments = %v, want %v", raw, want)
	}
	if tr.Text("S1") != "Hello there Back" {
		t.Fatalf("text = %q", tr.Text("S1"))
	}
}

func TestSpeechmaticsWithoutSpeakerUsesFallbackLabel(t *testing.T) {
	tr, err := Parse([]byte(`{"results":[{"type":"word","start_time":0,"end_time":1,"alternatives":[{"content":"hm"}]}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tr.Utterances) != 1 || tr.Utterances[0].Label != "UU" {
		t.Fatalf("unexpected utterances %+v", tr.Utterances)
	}
	if len(tr.Speakers()) != 0 {
		t.Fatalf("fallback label must not be listed as a speaker: %v", tr.Speakers())
	}
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse([]byte(`{"segments": []}`))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}

func TestSampleTruncatesAtLineBoundary(t *testing.T) {
	tr, err := Parse([]byte(assemblyJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	full := tr.Sample(0)
	if full == "" {
		t.Fatal("expected sample text")
	}
	short := tr.Sample(30)
	if short != "[A] Hi, this is Alice.\n" {
		t.Fatalf("unexpected truncated sample %q", short)
	}
}

func TestMergeSpans(t *testing.T) {
	tr, err := Parse([]byte(assemblyJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	raw := tr.RawSegments("A")

	if got := MergeSpans(raw, 0); len(got) != 4 {
		t.Fatalf("expected 4 unmerged spans, got %v", got)
	}
	got := MergeSpans(raw, 0.5)
	want := []speaker.Segment{{Start: 0, End: 2}, {Start: 4.2, End: 8}}
	if !slices.Equal(got, want) {
		t.Fatalf("MergeSpans(0.5) = %v, want %v", got, want)
	}
	if len(raw) != 4 {
		t.Fatalf("input modified: %v", raw)
	}
}
