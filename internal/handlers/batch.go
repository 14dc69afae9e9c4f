package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"photoflow/internal/middleware"
	"photoflow/internal/models"
	"photoflow/internal/pipeline"
)

type thumbnailURLs struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

type batchItemResponse struct {
	ItemID        string         `json:"itemId"`
	Filename      string         `json:"filename"`
	Success       bool           `json:"success"`
	URL           string         `json:"url,omitempty"`
	ThumbnailURLs *thumbnailURLs `json:"thumbnailUrls,omitempty"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	Error         string         `json:"error,omitempty"`
	Stage         string         `json:"stage,omitempty"`
	Retryable     bool           `json:"retryable,omitempty"`
}

// UploadBatch ingests one multipart batch. Envelope problems (bad context,
// too many files, mismatched item ids) fail the whole request; everything
// past that point fails per item only. Success and failure travel in the
// response body, not the HTTP status: one bad file must not mask 199 good
// ones.
func (h HandlerSet) UploadBatch(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	dest, err := models.ParseDestinationContext(c.PostForm("destinationContext"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_destination_context"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_batch"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_files"})
		return
	}
	if len(files) > h.cfg.Ingest.MaxFilesPerBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "too_many_files",
			"maxFiles": h.cfg.Ingest.MaxFilesPerBatch,
		})
		return
	}

	itemIDs := form.Value["itemId"]
	if len(itemIDs) > 0 && len(itemIDs) != len(files) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id_count_mismatch"})
		return
	}

	allowed := make(map[string]struct{}, len(h.cfg.Ingest.AllowedMimeTypes))
	for _, m := range h.cfg.Ingest.AllowedMimeTypes {
		allowed[m] = struct{}{}
	}

	responses := make([]batchItemResponse, len(files))
	var accepted []pipeline.Item
	var acceptedIdx []int

	for i, header := range files {
		itemID := uuid.NewString()
		if len(itemIDs) > 0 {
			itemID = itemIDs[i]
		}
		responses[i] = batchItemResponse{ItemID: itemID, Filename: header.Filename}

		// cheap checks run before any image work
		if header.Size > h.cfg.Ingest.MaxFileSize {
			responses[i].Error = fmt.Sprintf("file too large: %d bytes exceeds limit of %d", header.Size, h.cfg.Ingest.MaxFileSize)
			continue
		}
		declared := header.Header.Get("Content-Type")
		if _, ok := allowed[declared]; !ok {
			responses[i].Error = fmt.Sprintf("disallowed content type %q", declared)
			continue
		}

		data, err := readPart(header)
		if err != nil {
			h.log.Error().Err(err).Str("filename", header.Filename).Msg("read multipart file failed")
			responses[i].Error = "could not read file"
			responses[i].Retryable = true
			continue
		}

		accepted = append(accepted, pipeline.Item{
			ID:       itemID,
			Filename: header.Filename,
			Declared: declared,
			Context:  dest,
			Data:     data,
		})
		acceptedIdx = append(acceptedIdx, i)
	}

	results := h.processor.Process(c.Request.Context(), accepted)

	for n, res := range results {
		i := acceptedIdx[n]
		if res.Err != nil {
			responses[i].Error = res.Err.Err.Error()
			responses[i].Stage = string(res.Err.Stage)
			responses[i].Retryable = res.Err.Retryable
			continue
		}

		photo := res.Photo
		responses[i].Success = true
		responses[i].URL = photo.Variants.OriginalURL
		responses[i].ThumbnailURLs = &thumbnailURLs{
			Small:  photo.Variants.ThumbnailSmallURL,
			Medium: photo.Variants.ThumbnailMediumURL,
			Large:  photo.Variants.ThumbnailLargeURL,
		}
		responses[i].Width = photo.Variants.Width
		responses[i].Height = photo.Variants.Height

		h.publisher.PhotoIngested(c.Request.Context(), *photo)
	}

	succeeded := 0
	for _, r := range responses {
		if r.Success {
			succeeded++
		}
	}
	h.log.Info().
		Str("user_id", identity.UserID).
		Str("context", string(dest)).
		Int("files", len(files)).
		Int("succeeded", succeeded).
		Msg("batch processed")

	c.JSON(http.StatusOK, responses)
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
