package jobs

import (
	"context"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"photoflow/internal/config"
	"photoflow/internal/models"
	"photoflow/internal/storage"
)

var thumbnailSizes = []string{"small", "medium", "large"}

type blobStore interface {
	List(ctx context.Context, prefix string) <-chan minio.ObjectInfo
	Remove(ctx context.Context, keys ...string) error
}

type recordChecker interface {
	ExistsByObjectKey(ctx context.Context, objectKey string) (bool, error)
}

// Sweeper periodically removes stored originals that no photo record
// references. The record is the commit point, so a blob without a record is
// the residue of a crashed or rolled-back attempt. Young blobs are skipped:
// they may belong to a batch still in flight.
type Sweeper struct {
	cron     *cron.Cron
	store    blobStore
	photos   recordChecker
	schedule string
	minAge   time.Duration
	log      zerolog.Logger
}

func NewSweeper(store *storage.ObjectStore, photos recordChecker, cfg config.IngestConfig, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		store:    store,
		photos:   photos,
		schedule: cfg.SweepSchedule,
		minAge:   cfg.SweepMinAge,
		log:      log,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() context.CancelFunc {
	_, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		s.cron.Stop()
		cancel()
	}()
	return cancel
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	total := 0
	for _, dest := range []models.DestinationContext{models.ContextEvent, models.ContextPortfolio, models.ContextHero} {
		removed, err := s.sweepPrefix(ctx, path.Join(string(dest), "originals")+"/")
		if err != nil {
			s.log.Error().Err(err).Str("context", string(dest)).Msg("orphan sweep failed")
			continue
		}
		total += removed
	}

	if total > 0 {
		s.log.Info().Int("removed", total).Msg("orphan sweep removed unreferenced blobs")
	}
}

func (s *Sweeper) sweepPrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for obj := range s.store.List(ctx, prefix) {
		if obj.Err != nil {
			return removed, obj.Err
		}
		if time.Since(obj.LastModified) < s.minAge {
			continue
		}

		exists, err := s.photos.ExistsByObjectKey(ctx, obj.Key)
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}

		keys := append([]string{obj.Key}, storage.ThumbnailKeysForOriginal(obj.Key, thumbnailSizes)...)
		if err := s.store.Remove(ctx, keys...); err != nil {
			s.log.Error().Err(err).Str("key", obj.Key).Msg("remove orphan failed")
			continue
		}
		removed++
		s.log.Debug().Str("key", obj.Key).Msg("removed orphaned blob")
	}
	return removed, nil
}
