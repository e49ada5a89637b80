package services

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	recordingKey contextKey = "recording"
	labelKey     contextKey = "label"
)

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRecording annotates context with the content digest of the recording.
func WithRecording(ctx context.Context, digest string) context.Context {
	if digest == "" {
		return ctx
	}
	return context.WithValue(ctx, recordingKey, digest)
}

// RecordingFromContext returns the recording digest if present.
func RecordingFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(recordingKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithLabel annotates context with the diarization label being resolved.
func WithLabel(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, labelKey, label)
}

// LabelFromContext returns the diarization label if present.
func LabelFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(labelKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
