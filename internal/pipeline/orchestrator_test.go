package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoflow/internal/media/transform"
	"photoflow/internal/models"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
	failOn  string
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		if s.failErr != nil {
			return "", s.failErr
		}
		return "", errors.New("connection reset")
	}
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (s *fakeStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, key)
		s.removed = append(s.removed, key)
	}
	return nil
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	records map[string]models.Photo
	failErr error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: map[string]models.Photo{}}
}

func (r *fakeRecorder) Create(_ context.Context, photo models.Photo) (models.Photo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return models.Photo{}, r.failErr
	}
	if existing, ok := r.records[photo.UploadKey]; ok {
		return existing, nil
	}
	photo.CreatedAt = time.Now()
	r.records[photo.UploadKey] = photo
	return photo, nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type slowTransformer struct {
	inner *transform.Engine
	delay time.Duration
}

func (s *slowTransformer) Transform(src []byte) (*transform.Output, error) {
	time.Sleep(s.delay)
	return s.inner.Transform(src)
}

func newOrchestratorForTest(store *fakeStore, recorder *fakeRecorder, concurrency int) *Orchestrator {
	return NewOrchestrator(transform.New(transform.Config{}), store, recorder, concurrency, zerolog.Nop())
}

func validItem(t *testing.T, id, name string) Item {
	return Item{
		ID:       id,
		Filename: name,
		Declared: "image/jpeg",
		Context:  models.ContextEvent,
		Data:     jpegBytes(t, 800, 600),
	}
}

func TestProcessBatchMixedOutcomes(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 2)

	items := []Item{
		validItem(t, "item-1", "a.jpg"),
		validItem(t, "item-2", "b.jpg"),
		{
			ID:       "item-3",
			Filename: "c.jpg",
			Declared: "image/jpeg",
			Context:  models.ContextEvent,
			Data:     []byte("\xff\xd8\xffnot really a jpeg"),
		},
		validItem(t, "item-4", "d.jpg"),
		validItem(t, "item-5", "e.jpg"),
	}

	results := orch.Process(context.Background(), items)
	require.Len(t, results, 5)

	// results come back in submission order regardless of completion order
	for i, res := range results {
		assert.Equal(t, items[i].ID, res.ItemID)
	}

	var succeeded, failedCount int
	for _, res := range results {
		if res.Err != nil {
			failedCount++
			assert.Equal(t, "item-3", res.ItemID)
			assert.Equal(t, StageTransforming, res.Err.Stage)
			assert.False(t, res.Err.Retryable)
			assert.Nil(t, res.Photo)
			continue
		}
		succeeded++
		require.NotNil(t, res.Photo)
		assert.NotEmpty(t, res.Photo.Variants.OriginalURL)
		assert.NotEmpty(t, res.Photo.Variants.ThumbnailSmallURL)
		assert.NotEmpty(t, res.Photo.Variants.ThumbnailMediumURL)
		assert.NotEmpty(t, res.Photo.Variants.ThumbnailLargeURL)
	}

	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 1, failedCount)
	assert.Equal(t, 4, recorder.count(), "no record for the failed item")
}

func TestProcessRespectsConcurrencyBound(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := NewOrchestrator(
		&slowTransformer{inner: transform.New(transform.Config{}), delay: 20 * time.Millisecond},
		store, recorder, 2, zerolog.Nop(),
	)

	items := make([]Item, 8)
	for i := range items {
		items[i] = validItem(t, fmt.Sprintf("item-%d", i), fmt.Sprintf("f%d.jpg", i))
	}

	results := orch.Process(context.Background(), items)
	require.Len(t, results, 8)
	for _, res := range results {
		require.Nil(t, res.Err)
	}

	assert.LessOrEqual(t, orch.MaxObservedInFlight(), int64(2))
	assert.Positive(t, orch.MaxObservedInFlight())
}

func TestUnknownContentIsRejectedAtValidation(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 1)

	results := orch.Process(context.Background(), []Item{{
		ID:       "item-1",
		Filename: "notes.txt",
		Declared: "image/jpeg",
		Context:  models.ContextEvent,
		Data:     []byte("plain text, no image magic"),
	}})

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageValidating, results[0].Err.Stage)
	assert.False(t, results[0].Err.Retryable)
	assert.Empty(t, store.keys())
	assert.Zero(t, recorder.count())
}

func TestDeclaredMismatchIsRejected(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 1)

	item := validItem(t, "item-1", "a.jpg")
	item.Declared = "image/png"

	results := orch.Process(context.Background(), []Item{item})
	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageValidating, results[0].Err.Stage)
}

func TestStoreFailureRollsBackStoredBlobs(t *testing.T) {
	store := newFakeStore()
	store.failOn = "thumbnails/medium"
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 1)

	results := orch.Process(context.Background(), []Item{validItem(t, "item-1", "a.jpg")})

	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageStoring, results[0].Err.Stage)
	assert.True(t, results[0].Err.Retryable, "plain transport error is retryable")
	assert.Empty(t, store.keys(), "partial blobs must be removed")
	assert.NotEmpty(t, store.removed)
	assert.Zero(t, recorder.count())
}

func TestPermanentStoreFailureIsNotRetryable(t *testing.T) {
	store := newFakeStore()
	store.failOn = "originals"
	store.failErr = minio.ErrorResponse{Code: "AccessDenied", Message: "denied"}
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 1)

	results := orch.Process(context.Background(), []Item{validItem(t, "item-1", "a.jpg")})

	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageStoring, results[0].Err.Stage)
	assert.False(t, results[0].Err.Retryable)
}

func TestRecorderFailureRollsBackAndStaysRetryable(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	recorder.failErr = errors.New("connection refused")
	orch := newOrchestratorForTest(store, recorder, 1)

	results := orch.Process(context.Background(), []Item{validItem(t, "item-1", "a.jpg")})

	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageRecording, results[0].Err.Stage)
	assert.True(t, results[0].Err.Retryable)
	assert.Empty(t, store.keys())
}

func TestDuplicateUploadKeyReturnsPriorRecordOnce(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := newOrchestratorForTest(store, recorder, 1)

	first := orch.Process(context.Background(), []Item{validItem(t, "item-1", "a.jpg")})
	require.Nil(t, first[0].Err)
	firstPhoto := first[0].Photo
	keysAfterFirst := store.keys()

	second := orch.Process(context.Background(), []Item{validItem(t, "item-1", "a.jpg")})
	require.Nil(t, second[0].Err)

	assert.Equal(t, firstPhoto.ID, second[0].Photo.ID, "replay must not mint a second record")
	assert.Equal(t, 1, recorder.count())
	assert.ElementsMatch(t, keysAfterFirst, store.keys(), "replayed attempt's blobs are dropped")
}
