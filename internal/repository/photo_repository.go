package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photoflow/internal/models"
)

var ErrPhotoNotFound = errors.New("photo not found")

// PhotoRepository is the commit point of the ingestion pipeline: a row in
// photos is the single source of truth that an item fully succeeded.
type PhotoRepository struct {
	pool *pgxpool.Pool
}

func NewPhotoRepository(pool *pgxpool.Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// EnsureSchema creates the photos table on startup. The unique upload_key
// index is what makes Create idempotent; everything else is plain columns.
func (r *PhotoRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS photos (
		id               TEXT PRIMARY KEY,
		upload_key       TEXT NOT NULL UNIQUE,
		context          TEXT NOT NULL,
		filename         TEXT NOT NULL,
		object_key       TEXT NOT NULL,
		original_url     TEXT NOT NULL,
		thumb_small_url  TEXT NOT NULL,
		thumb_medium_url TEXT NOT NULL,
		thumb_large_url  TEXT NOT NULL,
		width            INTEGER NOT NULL,
		height           INTEGER NOT NULL,
		size_bytes       BIGINT NOT NULL,
		mime_type        TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_photos_object_key ON photos (object_key);
	CREATE INDEX IF NOT EXISTS idx_photos_context ON photos (context, created_at DESC);
	`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure photos schema: %w", err)
	}
	return nil
}

const photoColumns = `
	id, upload_key, context, filename, object_key,
	original_url, thumb_small_url, thumb_medium_url, thumb_large_url,
	width, height, size_bytes, mime_type, created_at
`

// Create inserts one record keyed by the client-assigned upload key. A
// duplicate key is a no-op: the previously recorded photo is returned so
// client retries after an unknown-outcome crash stay safe.
func (r *PhotoRepository) Create(ctx context.Context, photo models.Photo) (models.Photo, error) {
	const query = `
		INSERT INTO photos (
			id, upload_key, context, filename, object_key,
			original_url, thumb_small_url, thumb_medium_url, thumb_large_url,
			width, height, size_bytes, mime_type, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (upload_key) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		photo.ID,
		photo.UploadKey,
		photo.Context,
		photo.Filename,
		photo.ObjectKey,
		photo.Variants.OriginalURL,
		photo.Variants.ThumbnailSmallURL,
		photo.Variants.ThumbnailMediumURL,
		photo.Variants.ThumbnailLargeURL,
		photo.Variants.Width,
		photo.Variants.Height,
		photo.SizeBytes,
		photo.MimeType,
	)
	if err != nil {
		return models.Photo{}, fmt.Errorf("insert photo: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.GetByUploadKey(ctx, photo.UploadKey)
		if err != nil {
			return models.Photo{}, fmt.Errorf("fetch existing photo for key %s: %w", photo.UploadKey, err)
		}
		return existing, nil
	}

	return r.GetByUploadKey(ctx, photo.UploadKey)
}

func (r *PhotoRepository) GetByUploadKey(ctx context.Context, uploadKey string) (models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE upload_key = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, uploadKey))
}


// ExistsByObjectKey reports whether any photo references the given stored
// original. The orphan sweep uses this to decide whether a blob is live.
func (r *PhotoRepository) ExistsByObjectKey(ctx context.Context, objectKey string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM photos WHERE object_key = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, objectKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists by object key: %w", err)
	}
	return exists, nil
}


type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PhotoRepository) scanOne(row rowScanner) (models.Photo, error) {
	var photo models.Photo
	if err := row.Scan(
		&photo.ID,
		&photo.UploadKey,
		&photo.Context,
		&photo.Filename,
		&photo.ObjectKey,
		&photo.Variants.OriginalURL,
		&photo.Variants.ThumbnailSmallURL,
		&photo.Variants.ThumbnailMediumURL,
		&photo.Variants.ThumbnailLargeURL,
		&photo.Variants.Width,
		&photo.Variants.Height,
		&photo.SizeBytes,
		&photo.MimeType,
		&photo.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Photo{}, ErrPhotoNotFound
		}
		return models.Photo{}, err
	}
	return photo, nil
}
