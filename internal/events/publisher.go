package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photoflow/internal/models"
)

// Publisher announces freshly ingested photos on a redis stream so the
// gallery and notification services can pick them up. Publishing is best
// effort: a stream hiccup never fails an already-committed item.
type Publisher struct {
	client *redis.Client
	stream string
	log    zerolog.Logger
}

func NewPublisher(client *redis.Client, stream string, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		log:    log,
	}
}

func (p *Publisher) PhotoIngested(ctx context.Context, photo models.Photo) {
	if p == nil || p.client == nil {
		return
	}

	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":    "photo.ingested",
			"photoId": photo.ID,
			"context": string(photo.Context),
			"key":     photo.ObjectKey,
			"url":     photo.Variants.OriginalURL,
		},
	}).Result()
	if err != nil {
		p.log.Warn().Err(err).Str("photo_id", photo.ID).Msg("publish ingested event failed")
	}
}
