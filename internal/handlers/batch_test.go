package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoflow/internal/config"
	"photoflow/internal/models"
	"photoflow/internal/pipeline"
	"photoflow/internal/security"
)

const testSecret = "handler-test-secret"

type stubProcessor struct {
	gotItems []pipeline.Item
	fail     map[string]*pipeline.ItemError
}

func (s *stubProcessor) Process(_ context.Context, items []pipeline.Item) []pipeline.Result {
	s.gotItems = items
	results := make([]pipeline.Result, len(items))
	for i, item := range items {
		results[i] = pipeline.Result{ItemID: item.ID, Filename: item.Filename}
		if err, ok := s.fail[item.ID]; ok {
			results[i].Err = err
			continue
		}
		results[i].Photo = &models.Photo{
			ID:        "photo-" + item.ID,
			UploadKey: item.ID,
			Context:   item.Context,
			Filename:  item.Filename,
			Variants: models.VariantSet{
				OriginalURL:        "https://cdn.test/" + item.Filename,
				ThumbnailSmallURL:  "https://cdn.test/s/" + item.Filename,
				ThumbnailMediumURL: "https://cdn.test/m/" + item.Filename,
				ThumbnailLargeURL:  "https://cdn.test/l/" + item.Filename,
				Width:              1600,
				Height:             900,
			},
		}
	}
	return results
}

func testRouter(t *testing.T, processor BatchProcessor, cfg *config.AppConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := HandlerSet{
		log:       zerolog.Nop(),
		cfg:       cfg,
		verifier:  security.NewJWTVerifier(testSecret),
		processor: processor,
	}

	engine := gin.New()
	h.Register(engine.Group("/api"))
	return engine
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Ingest: config.IngestConfig{
			MaxFileSize:      50 * 1024 * 1024,
			MaxFilesPerBatch: 10,
			AllowedMimeTypes: []string{"image/jpeg", "image/png"},
			Concurrency:      2,
		},
	}
}

type filePart struct {
	itemID      string
	filename    string
	contentType string
	size        int
}

func batchRequest(t *testing.T, dest string, parts []filePart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("destinationContext", dest))

	for _, part := range parts {
		require.NoError(t, writer.WriteField("itemId", part.itemID))

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, part.filename))
		header.Set("Content-Type", part.contentType)
		fw, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte{0xab}, part.size))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/batch", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	token, err := security.SignAccessToken(testSecret, "admin-1", "admin", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadBatchRequiresAuth(t *testing.T) {
	router := testRouter(t, &stubProcessor{}, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/batch", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadBatchRejectsInvalidToken(t *testing.T) {
	router := testRouter(t, &stubProcessor{}, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/batch", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadBatchRejectsUnknownContext(t *testing.T) {
	router := testRouter(t, &stubProcessor{}, testConfig())

	req := batchRequest(t, "mystery", []filePart{{itemID: "i1", filename: "a.jpg", contentType: "image/jpeg", size: 10}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadBatchRejectsOversizedBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxFilesPerBatch = 2
	processor := &stubProcessor{}
	router := testRouter(t, processor, cfg)

	parts := []filePart{
		{itemID: "i1", filename: "a.jpg", contentType: "image/jpeg", size: 10},
		{itemID: "i2", filename: "b.jpg", contentType: "image/jpeg", size: 10},
		{itemID: "i3", filename: "c.jpg", contentType: "image/jpeg", size: 10},
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, batchRequest(t, "event", parts))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, processor.gotItems, "oversized batch must not reach the orchestrator")
}

func TestUploadBatchPerItemChecks(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxFileSize = 1024
	processor := &stubProcessor{}
	router := testRouter(t, processor, cfg)

	parts := []filePart{
		{itemID: "i1", filename: "a.jpg", contentType: "image/jpeg", size: 100},
		{itemID: "i2", filename: "b.raw", contentType: "image/x-raw", size: 100},
		{itemID: "i3", filename: "c.jpg", contentType: "image/jpeg", size: 4096},
		{itemID: "i4", filename: "d.png", contentType: "image/png", size: 100},
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, batchRequest(t, "event", parts))

	require.Equal(t, http.StatusOK, rec.Code)

	var results []batchItemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 4)

	// submission order preserved
	assert.Equal(t, "i1", results[0].ItemID)
	assert.Equal(t, "i2", results[1].ItemID)
	assert.Equal(t, "i3", results[2].ItemID)
	assert.Equal(t, "i4", results[3].ItemID)

	assert.True(t, results[0].Success)
	assert.Equal(t, "https://cdn.test/a.jpg", results[0].URL)
	require.NotNil(t, results[0].ThumbnailURLs)
	assert.Equal(t, 1600, results[0].Width)

	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "disallowed content type")

	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "file too large")

	assert.True(t, results[3].Success)

	// only the two clean items were handed to the pipeline
	require.Len(t, processor.gotItems, 2)
	assert.Equal(t, "i1", processor.gotItems[0].ID)
	assert.Equal(t, "i4", processor.gotItems[1].ID)
	assert.Equal(t, models.ContextEvent, processor.gotItems[0].Context)
}

func TestUploadBatchSurfacesPipelineFailures(t *testing.T) {
	processor := &stubProcessor{
		fail: map[string]*pipeline.ItemError{
			"i2": {Stage: pipeline.StageTransforming, Retryable: false, Err: fmt.Errorf("undecodable image")},
		},
	}
	router := testRouter(t, processor, testConfig())

	parts := []filePart{
		{itemID: "i1", filename: "a.jpg", contentType: "image/jpeg", size: 100},
		{itemID: "i2", filename: "b.jpg", contentType: "image/jpeg", size: 100},
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, batchRequest(t, "portfolio", parts))

	require.Equal(t, http.StatusOK, rec.Code)

	var results []batchItemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "transforming", results[1].Stage)
	assert.Contains(t, results[1].Error, "undecodable")
}

func TestUploadBatchItemIDCountMismatch(t *testing.T) {
	router := testRouter(t, &stubProcessor{}, testConfig())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("destinationContext", "event"))
	require.NoError(t, writer.WriteField("itemId", "only-one"))
	for _, name := range []string{"a.jpg", "b.jpg"} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
		header.Set("Content-Type", "image/jpeg")
		fw, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = fw.Write([]byte{0xff, 0xd8, 0xff})
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/batch", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	token, err := security.SignAccessToken(testSecret, "admin-1", "admin", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
