package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"photoflow/internal/client/queue"
	"photoflow/internal/config"
	"photoflow/internal/models"
)

// ErrServerRejected wraps a non-2xx response whose body could not be
// interpreted per item (401, 400 envelope failures).
var ErrServerRejected = errors.New("server rejected batch")

// Progress is invoked as body bytes leave the client, per item.
type Progress func(itemID string, sent, total int64)

// ItemResult mirrors one entry of the gateway's response array.
type ItemResult struct {
	ItemID        string `json:"itemId"`
	Filename      string `json:"filename"`
	Success       bool   `json:"success"`
	URL           string `json:"url,omitempty"`
	ThumbnailURLs *struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"thumbnailUrls,omitempty"`
	Error     string `json:"error,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Client performs the actual network upload for one sub-batch. It streams
// the multipart body so a 200-photo batch never sits in memory twice.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func New(cfg config.ClientConfig, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.ServerURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// SendBatch uploads the given items in one request. Cancelling the context
// releases the underlying connection and returns an error satisfying
// errors.Is(err, context.Canceled), distinguishable from network failure.
// Network failures are retryable; per-item verdicts travel in the result.
func (c *Client) SendBatch(ctx context.Context, dest models.DestinationContext, items []queue.Item, progress Progress) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeBody(writer, dest, items, progress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/photos/batch", pr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrServerRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var results []ItemResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return results, nil
}

func writeBody(writer *multipart.Writer, dest models.DestinationContext, items []queue.Item, progress Progress) error {
	if err := writer.WriteField("destinationContext", string(dest)); err != nil {
		return err
	}

	for _, item := range items {
		if err := writer.WriteField("itemId", item.ID); err != nil {
			return err
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, item.Filename))
		header.Set("Content-Type", item.MimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return err
		}

		file, err := os.Open(item.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", item.Path, err)
		}

		reader := &progressReader{
			r:      file,
			itemID: item.ID,
			total:  item.SizeBytes,
			fn:     progress,
		}
		_, err = io.Copy(part, reader)
		file.Close()
		if err != nil {
			return fmt.Errorf("stream %s: %w", item.Filename, err)
		}
	}

	return writer.Close()
}

// progressReader reports cumulative bytes as each buffered chunk is
// consumed by the HTTP transport.
type progressReader struct {
	r      io.Reader
	itemID string
	total  int64
	sent   int64
	fn     Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.itemID, p.sent, p.total)
		}
	}
	return n, err
}
