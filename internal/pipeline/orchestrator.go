package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"photoflow/internal/media/sniffer"
	"photoflow/internal/media/transform"
	"photoflow/internal/models"
	"photoflow/internal/storage"
)

// Item is one file of a batch, tracked independently end-to-end. ID is the
// client-assigned idempotency key, stable across retries of the same file.
type Item struct {
	ID       string
	Filename string
	Declared string
	Context  models.DestinationContext
	Data     []byte
}

// Result is the terminal outcome of one item. Exactly one of Photo and Err
// is set.
type Result struct {
	ItemID   string
	Filename string
	Photo    *models.Photo
	Err      *ItemError
}

type Transformer interface {
	Transform(src []byte) (*transform.Output, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, keys ...string) error
}

type Recorder interface {
	Create(ctx context.Context, photo models.Photo) (models.Photo, error)
}

// Orchestrator fans a batch out across a bounded worker pool. The bound is a
// fixed configuration constant, never scaled by batch size: the transform
// stage is CPU-bound and unbounded fan-out would also exhaust the object
// store and database connection pools.
type Orchestrator struct {
	transformer Transformer
	store       BlobStore
	recorder    Recorder
	concurrency int
	log         zerolog.Logger

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func NewOrchestrator(transformer Transformer, store BlobStore, recorder Recorder, concurrency int, log zerolog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		transformer: transformer,
		store:       store,
		recorder:    recorder,
		concurrency: concurrency,
		log:         log,
	}
}

// MaxObservedInFlight reports the high-water mark of items occupying the
// transform/store stages simultaneously.
func (o *Orchestrator) MaxObservedInFlight() int64 {
	return o.maxInFlight.Load()
}

// Process runs every item to a terminal outcome and returns results in
// submission order. Sibling items never affect each other: a failure is
// recorded locally and the pool keeps draining. There is no early return on
// first failure.
func (o *Orchestrator) Process(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for i := range items {
		i := i
		g.Go(func() error {
			results[i] = o.processOne(ctx, items[i])
			return nil
		})
	}

	// Workers report outcomes through the results slice, never as errors.
	_ = g.Wait()

	return results
}

func (o *Orchestrator) processOne(ctx context.Context, item Item) Result {
	current := o.inFlight.Add(1)
	for {
		max := o.maxInFlight.Load()
		if current <= max || o.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	defer o.inFlight.Add(-1)

	result := Result{ItemID: item.ID, Filename: item.Filename}

	photo, itemErr := o.runStages(ctx, item)
	if itemErr != nil {
		o.log.Warn().
			Str("item_id", item.ID).
			Str("filename", item.Filename).
			Str("stage", string(itemErr.Stage)).
			Bool("retryable", itemErr.Retryable).
			Err(itemErr.Err).
			Msg("item failed")
		result.Err = itemErr
		return result
	}

	result.Photo = photo
	return result
}

func (o *Orchestrator) runStages(ctx context.Context, item Item) (*models.Photo, *ItemError) {
	// validating
	if len(item.Data) == 0 {
		return nil, rejected(StageValidating, errors.New("empty file"))
	}
	sniffed, err := sniffer.DetectHead(head(item.Data))
	if err != nil {
		return nil, rejected(StageValidating, err)
	}
	if !sniffed.Matches(item.Declared) {
		return nil, rejected(StageValidating, errContentMismatch(item.Declared, sniffed.MIME))
	}

	// transforming
	output, err := o.transformer.Transform(item.Data)
	if err != nil {
		return nil, failed(StageTransforming, false, err)
	}

	// storing: original first, then every variant. Any store failure rolls
	// back what this attempt already wrote so no blob outlives its record.
	filename := storage.UniqueFilename(item.Filename)
	originalKey := storage.OriginalKey(item.Context, filename)

	var storedKeys []string
	rollback := func() {
		if len(storedKeys) > 0 {
			if err := o.store.Remove(context.WithoutCancel(ctx), storedKeys...); err != nil {
				o.log.Error().Err(err).Str("item_id", item.ID).Msg("rollback cleanup failed")
			}
		}
	}

	originalURL, err := o.store.Put(ctx, originalKey, item.Data, sniffed.MIME)
	if err != nil {
		rollback()
		return nil, failed(StageStoring, storage.IsTransient(err), err)
	}
	storedKeys = append(storedKeys, originalKey)

	variantURLs := map[transform.Size]string{}
	for _, variant := range output.Variants {
		key := storage.ThumbnailKey(item.Context, string(variant.Size), filename)
		url, err := o.store.Put(ctx, key, variant.Data, "image/jpeg")
		if err != nil {
			rollback()
			return nil, failed(StageStoring, storage.IsTransient(err), err)
		}
		storedKeys = append(storedKeys, key)
		variantURLs[variant.Size] = url
	}

	// recording: the commit point.
	photo := models.Photo{
		ID:        ksuid.New().String(),
		UploadKey: item.ID,
		Context:   item.Context,
		Filename:  filename,
		ObjectKey: originalKey,
		Variants: models.VariantSet{
			OriginalURL:        originalURL,
			ThumbnailSmallURL:  variantURLs[transform.SizeSmall],
			ThumbnailMediumURL: variantURLs[transform.SizeMedium],
			ThumbnailLargeURL:  variantURLs[transform.SizeLarge],
			Width:              output.Width,
			Height:             output.Height,
		},
		SizeBytes: int64(len(item.Data)),
		MimeType:  sniffed.MIME,
	}

	recorded, err := o.recorder.Create(ctx, photo)
	if err != nil {
		rollback()
		return nil, failed(StageRecording, true, err)
	}

	if recorded.ObjectKey != originalKey {
		// Idempotent replay: an earlier attempt already committed this upload
		// key. The blobs written by this attempt are unreferenced, drop them.
		rollback()
		o.log.Info().
			Str("item_id", item.ID).
			Str("photo_id", recorded.ID).
			Msg("duplicate upload key, returning prior record")
	}

	return &recorded, nil
}

func head(data []byte) []byte {
	if len(data) > 512 {
		return data[:512]
	}
	return data
}
