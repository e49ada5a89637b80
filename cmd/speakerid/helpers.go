package main

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// warnCorrupt tells the operator about records that could not be decoded.
// Output goes to stderr so machine formats on stdout stay parseable.
func warnCorrupt(cmd *cobra.Command, corrupt []store.CorruptRecord) {
	for _, rec := range corrupt {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipping unreadable %s %s: %v\n", rec.Kind, rec.Key, rec.Err)
	}
}

// embeddingLine renders an embedding as "<id> <backend> <model> [trust] (Nr/Nu/Nx)".
func embeddingLine(emb speaker.EmbeddingRecord, showTrust bool) string {
	line := fmt.Sprintf("%s %s %s", emb.ID, emb.Backend, emb.ModelVersion)
	if showTrust {
		reviewed, unreviewed, rejected := emb.Samples.Counts()
		line += fmt.Sprintf(" [%s] (%dr/%du/%dx)", emb.TrustLevel, reviewed, unreviewed, rejected)
	}
	if warning := backend.CompatibilityWarning(emb.ModelVersion, emb.Backend); warning != "" {
		line += " ! " + warning
	}
	return line
}

func trustColor(level trust.Level) string {
	switch level {
	case trust.High:
		return ansiGreen
	case trust.Medium:
		return ansiBlue
	case trust.Low:
		return ansiYellow
	case trust.Invalidated:
		return ansiRed
	default:
		return ""
	}
}

// resolveSampleDigest expands a digest prefix against a speaker's samples.
func resolveSampleDigest(speakerID string, samples []speaker.Sample, ref string) (string, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < 4 {
		return "", fmt.Errorf("%w: sample reference %q is too short (need at least 4 characters)", services.ErrValidation, ref)
	}
	var matches []string
	for _, s := range samples {
		if s.Digest == ref {
			return s.Digest, nil
		}
		if strings.HasPrefix(s.Digest, ref) {
			matches = append(matches, s.Digest)
		}
	}
	switch len(matches) {
	case 0:
		return "", &ledger.SampleNotFoundError{SpeakerID: speakerID, Digest: ref}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: sample prefix %q matches %d samples", services.ErrValidation, ref, len(matches))
	}
}

func shortDigest(digest string) string {
	return contenthash.Short(digest)
}
