package testsupport

import (
	"context"
	"sync/atomic"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
)

// FakeDetector returns fixed detections, or Err when set.
type FakeDetector struct {
	Detections map[string]namedetect.Detection
	Err        error
	Calls      atomic.Int32
}

// NewFakeDetector maps each label to a high-confidence name.
func NewFakeDetector(names map[string]string) *FakeDetector {
	d := &FakeDetector{Detections: map[string]namedetect.Detection{}}
	for label, name := range names {
		d.Detections[label] = namedetect.Detection{
			Label:      label,
			Name:       name,
			Confidence: namedetect.ConfidenceHigh,
			Evidence:   []string{"this is " + name},
		}
	}
	return d
}

func (d *FakeDetector) Detect(ctx context.Context, _ string, labels []string) (map[string]namedetect.Detection, error) {
	d.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	out := map[string]namedetect.Detection{}
	for _, label := range labels {
		if det, ok := d.Detections[label]; ok {
			out[label] = det
		}
	}
	return out, nil
}
