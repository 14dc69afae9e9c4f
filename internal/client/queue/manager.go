package queue

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photoflow/internal/models"
)

// ItemOutcome is the server's per-item verdict, matched back to queue state
// by item id rather than completion order.
type ItemOutcome struct {
	ItemID    string
	Success   bool
	Error     string
	Retryable bool
}

// Manager owns the persisted upload session. Every status mutation is
// written through to the store before anything else happens, so a crash at
// any point leaves a resumable record and the only work ever repeated is
// work whose outcome was genuinely unknown.
type Manager struct {
	store      *Store
	maxRetries int
	log        zerolog.Logger
}

func NewManager(store *Store, maxRetries int, log zerolog.Logger) *Manager {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Manager{
		store:      store,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Enqueue registers the selected files and persists the session before any
// network call: a crash before the first byte still leaves a resumable
// record.
func (m *Manager) Enqueue(ctx context.Context, dest models.DestinationContext, paths []string) (*Batch, error) {
	batch := &Batch{
		SessionID: uuid.NewString(),
		Context:   dest,
		CreatedAt: time.Now().UTC(),
	}

	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}

		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		batch.Items = append(batch.Items, Item{
			ID:        uuid.NewString(),
			SessionID: batch.SessionID,
			Path:      p,
			Filename:  filepath.Base(p),
			SizeBytes: info.Size(),
			MimeType:  mimeType,
			Status:    StatusQueued,
			Position:  i,
		})
	}

	if err := m.store.SaveBatch(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Restore loads the last persisted session. Items a prior run left in
// uploading or processing have an unknown outcome and go back to queued;
// the server-side idempotency key makes the re-send safe. Items already
// done stay done and are never re-sent.
func (m *Manager) Restore(ctx context.Context) (*Batch, error) {
	batch, err := m.store.LoadLatest(ctx)
	if err != nil || batch == nil {
		return batch, err
	}

	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status == StatusUploading || item.Status == StatusProcessing {
			item.Status = StatusQueued
			item.Progress = 0
			if err := m.store.SaveItem(ctx, *item); err != nil {
				return nil, err
			}
			m.log.Debug().Str("item_id", item.ID).Msg("reset unknown-outcome item to queued")
		}
	}

	return batch, nil
}

func (m *Manager) MarkUploading(ctx context.Context, batch *Batch, itemID string) error {
	return m.transition(ctx, batch, itemID, StatusUploading)
}

func (m *Manager) MarkProcessing(ctx context.Context, batch *Batch, itemID string) error {
	return m.transition(ctx, batch, itemID, StatusProcessing)
}

func (m *Manager) transition(ctx context.Context, batch *Batch, itemID string, status Status) error {
	item := batch.item(itemID)
	if item == nil {
		return fmt.Errorf("unknown item %s", itemID)
	}
	item.Status = status
	return m.store.SaveItem(ctx, *item)
}

// SetProgress records byte-level progress for the UI; persisted so a
// background agent picking up the queue sees where the foreground left off.
func (m *Manager) SetProgress(ctx context.Context, batch *Batch, itemID string, percent int) error {
	item := batch.item(itemID)
	if item == nil {
		return fmt.Errorf("unknown item %s", itemID)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	item.Progress = percent
	return m.store.SaveItem(ctx, *item)
}

// Reconcile applies the server's per-item results. Successes become done;
// failures become failed with the reason and a bumped retry count. When the
// whole session is done it is cleared from the store.
func (m *Manager) Reconcile(ctx context.Context, batch *Batch, outcomes []ItemOutcome) error {
	for _, outcome := range outcomes {
		item := batch.item(outcome.ItemID)
		if item == nil {
			m.log.Warn().Str("item_id", outcome.ItemID).Msg("server reported unknown item")
			continue
		}

		if outcome.Success {
			item.Status = StatusDone
			item.Progress = 100
			item.LastError = ""
		} else {
			item.Status = StatusFailed
			item.LastError = outcome.Error
			item.RetryCount++
		}
		if err := m.store.SaveItem(ctx, *item); err != nil {
			return err
		}
	}

	if batch.Done() {
		return m.store.DeleteSession(ctx, batch.SessionID)
	}
	return nil
}

// RequeueAfterSendFailure handles a transport-level failure: nothing was
// acknowledged per item, so every in-flight item goes back to queued with a
// bumped retry count.
func (m *Manager) RequeueAfterSendFailure(ctx context.Context, batch *Batch, cause string) error {
	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status != StatusUploading && item.Status != StatusProcessing {
			continue
		}
		item.Status = StatusFailed
		item.LastError = cause
		item.RetryCount++
		if err := m.store.SaveItem(ctx, *item); err != nil {
			return err
		}
	}
	return nil
}

// RetryFailed explicitly requeues failed items still under the retry
// ceiling. Items at the ceiling are left for Exhausted to surface.
func (m *Manager) RetryFailed(ctx context.Context, batch *Batch) (int, error) {
	requeued := 0
	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status != StatusFailed || item.RetryCount >= m.maxRetries {
			continue
		}
		item.Status = StatusQueued
		item.Progress = 0
		if err := m.store.SaveItem(ctx, *item); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Exhausted lists failed items that hit the retry ceiling; these are
// surfaced to the user instead of auto-retried.
func (m *Manager) Exhausted(batch *Batch) []Item {
	var out []Item
	for _, item := range batch.Items {
		if item.Status == StatusFailed && item.RetryCount >= m.maxRetries {
			out = append(out, item)
		}
	}
	return out
}

// Discard drops the session regardless of item state.
func (m *Manager) Discard(ctx context.Context, batch *Batch) error {
	return m.store.DeleteSession(ctx, batch.SessionID)
}
