package models

import (
	"fmt"
	"time"
)

// DestinationContext discriminates where an ingested photo is surfaced.
type DestinationContext string

const (
	ContextEvent     DestinationContext = "event"
	ContextPortfolio DestinationContext = "portfolio"
	ContextHero      DestinationContext = "hero"
)

func ParseDestinationContext(s string) (DestinationContext, error) {
	switch DestinationContext(s) {
	case ContextEvent, ContextPortfolio, ContextHero:
		return DestinationContext(s), nil
	}
	return "", fmt.Errorf("unknown destination context %q", s)
}

// VariantSet holds the URLs of the stored original plus every derived
// thumbnail, and the source dimensions. A VariantSet is only ever complete:
// the pipeline never persists a partial one.
type VariantSet struct {
	OriginalURL        string
	ThumbnailSmallURL  string
	ThumbnailMediumURL string
	ThumbnailLargeURL  string
	Width              int
	Height             int
}

// Photo is the metadata record written once per fully ingested file.
// UploadKey is the client-assigned idempotency key; it is unique across
// retries of the same item.
type Photo struct {
	ID        string
	UploadKey string
	Context   DestinationContext
	Filename  string
	ObjectKey string
	Variants  VariantSet
	SizeBytes int64
	MimeType  string
	CreatedAt time.Time
}
