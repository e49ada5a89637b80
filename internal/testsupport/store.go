package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewIdentity creates an identity for tests using the provided store.
func NewIdentity(t testing.TB, st *store.Store, id, name string) *speaker.Identity {
	t.Helper()

	ident, err := speaker.NewIdentity(id, name, time.Now())
	if err != nil {
		t.Fatalf("speaker.NewIdentity: %v", err)
	}
	if err := st.CreateIdentity(context.Background(), &ident); err != nil {
		t.Fatalf("store.CreateIdentity: %v", err)
	}
	return &ident
}

// NewEmbedding stores an embedding for speakerID whose handle is voice, so
// FakeBackend matches it against requests carrying that voice. The partition
// holds synthetic digests shaped to produce level.
func NewEmbedding(t testing.TB, st *store.Store, speakerID, backendName, voice string, level trust.Level) *speaker.EmbeddingRecord {
	t.Helper()

	partition := speaker.Partition{}
	reviewed := contenthash.Sum([]byte(speakerID + "/" + voice + "/reviewed"))
	unreviewed := contenthash.Sum([]byte(speakerID + "/" + voice + "/unreviewed"))
	switch level {
	case trust.High:
		partition.Set(reviewed, speaker.BucketReviewed)
	case trust.Medium:
		partition.Set(reviewed, speaker.BucketReviewed)
		partition.Set(unreviewed, speaker.BucketUnreviewed)
	case trust.Low:
		partition.Set(unreviewed, speaker.BucketUnreviewed)
	case trust.Invalidated:
		partition.Set(contenthash.Sum([]byte(speakerID+"/"+voice+"/rejected")), speaker.BucketRejected)
	}
	emb := &speaker.EmbeddingRecord{
		ID:           "emb-" + speakerID + "-" + backendName,
		SpeakerID:    speakerID,
		Backend:      backendName,
		Handle:       []byte(voice),
		ModelVersion: backendName + "-fake",
		Samples:      partition,
		TrustLevel:   partition.Trust(),
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := st.InsertEmbedding(context.Background(), emb); err != nil {
		t.Fatalf("store.InsertEmbedding: %v", err)
	}
	return emb
}
