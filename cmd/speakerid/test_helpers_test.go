package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
)

const meetingTranscript = `{"utterances":[
	{"speaker":"A","start":0,"end":3000,"text":"Hi everyone, this is Alice."},
	{"speaker":"B","start":3500,"end":6000,"text":"Bob here, thanks for having me."}
]}`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	backend    *testsupport.FakeBackend
	detector   namedetect.Detector
	dir        string
	recording  string
	transcript string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("SPEAKERS_EMBEDDINGS_DIR", "")
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Embedding.Backend = "fake"
	cfg.NameDetection.Enabled = false
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "speakerid.toml")
	writeTestConfig(t, configPath, cfg)

	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["0.00-3.00"] = "alice-voice"
	fb.Voices["3.50-6.00"] = "bob-voice"

	dir := filepath.Join(base, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir media: %v", err)
	}
	env := &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		backend:    fb,
		dir:        dir,
		recording:  filepath.Join(dir, "meeting.wav"),
		transcript: filepath.Join(dir, "meeting.json"),
	}
	if err := os.WriteFile(env.recording, []byte("RIFF-meeting"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	if err := os.WriteFile(env.transcript, []byte(meetingTranscript), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return env
}

// fakeMediaRunner stands in for ffmpeg and ffprobe. Clips carry their start
// offset so every segment hashes differently.
func fakeMediaRunner(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
	if i := slices.Index(args, "-ss"); i >= 0 && i+1 < len(args) {
		return []byte("clip@" + args[i+1]), nil, nil
	}
	return []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"6.0"}}`), nil, nil
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommandWithDeps(commandDeps{
		registry:    testsupport.FakeRegistry(e.backend),
		audioRunner: fakeMediaRunner,
		detector:    e.detector,
	})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test when the command errors.
func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("speakerid %s: %v\nstdout: %s\nstderr: %s", strings.Join(args, " "), err, out, stderr)
	}
	return out
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
catalog_dir = %q
samples_dir = %q
cache_dir = %q

[embedding]
backend = %q

[name_detection]
enabled = %t
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.CatalogDir,
		cfg.Paths.SamplesDir,
		cfg.Paths.CacheDir,
		cfg.Embedding.Backend,
		cfg.NameDetection.Enabled,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func decodeJSON[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected %q not to contain %q", output, substr)
	}
}
