package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// Item is one queued recording.
type Item struct {
	ID              int64     `json:"id"`
	SourcePath      string    `json:"source_path"`
	RecordingDigest string    `json:"recording_b3sum"`
	Context         string    `json:"context,omitempty"`
	Backend         string    `json:"backend,omitempty"`
	Status          Status    `json:"status"`
	ErrorMessage    string    `json:"error,omitempty"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SetFailed marks the item as failed with the given error message.
func (i *Item) SetFailed(message string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
}

// SetCompleted marks the item as done and clears any earlier error.
func (i *Item) SetCompleted() {
	i.Status = StatusCompleted
	i.ErrorMessage = ""
}

// Summary aggregates queue counts per status.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
