package queue

import (
	"time"

	"photoflow/internal/models"
)

// Status is the client-side lifecycle of one queued file. Transitions only
// move forward (queued, uploading, processing, done) except for the explicit
// failed-to-queued retry.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Item is one pending file of an upload session. ID doubles as the server
// idempotency key, assigned at enqueue time; filenames are not usable for
// that since they collide.
type Item struct {
	ID         string
	SessionID  string
	Path       string
	Filename   string
	SizeBytes  int64
	MimeType   string
	Status     Status
	Progress   int
	RetryCount int
	LastError  string
	Position   int
}

// Batch is the persisted upload session: created when files are selected,
// written through on every status change, cleared when everything is done or
// the user discards it.
type Batch struct {
	SessionID string
	Context   models.DestinationContext
	Items     []Item
	CreatedAt time.Time
}

// Pending returns the items still waiting for an upload attempt.
func (b *Batch) Pending() []Item {
	var out []Item
	for _, item := range b.Items {
		if item.Status == StatusQueued {
			out = append(out, item)
		}
	}
	return out
}

// Done reports whether every item reached the done state.
func (b *Batch) Done() bool {
	for _, item := range b.Items {
		if item.Status != StatusDone {
			return false
		}
	}
	return len(b.Items) > 0
}

func (b *Batch) item(id string) *Item {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return &b.Items[i]
		}
	}
	return nil
}
