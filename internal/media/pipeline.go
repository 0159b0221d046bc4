// Package media prepares source post attachments for the target platform:
// fetch, metadata strip, recompression to the platform size budget, and
// upload with retry.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

const (
	// compressBudgetBytes is the re-encode target: compression stops once
	// the encoded image fits under it.
	compressBudgetBytes = 950 * 1024

	// hardLimitBytes is the platform's own attachment ceiling. An asset
	// still exceeding it at the quality floor is rejected rather than
	// uploaded malformed.
	hardLimitBytes = 1_000_000

	qualityStart = 95
	qualityFloor = 20
	qualityStep  = 5

	uploadAttempts = 5
	backoffBase    = time.Second
)

// SystemSleeper implements domain.Sleeper with real delays, aborting early
// when the context is cancelled.
type SystemSleeper struct{}

func (SystemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pipeline implements domain.MediaPipeline. It holds no per-attachment
// state and is shared by both sync directions.
type Pipeline struct {
	httpClient *http.Client
	sleep      domain.Sleeper
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline using the given HTTP client for media
// fetches and the given sleeper for upload backoff delays.
func NewPipeline(httpClient *http.Client, sleep domain.Sleeper, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		httpClient: httpClient,
		sleep:      sleep,
		logger:     logger,
	}
}

// Process runs the full pipeline for one image attachment: fetch the source
// bytes, rebuild the pixel buffer to discard embedded metadata, re-encode
// down to the size budget, and upload with retry. Any failure drops only
// this attachment; the caller publishes the post without it.
func (p *Pipeline) Process(ctx context.Context, att domain.MediaAttachment, upload domain.MediaUploadFunc) (string, error) {
	if att.Kind != domain.MediaImage {
		return "", fmt.Errorf("unsupported media kind %q", att.Kind)
	}

	data, err := p.Fetch(ctx, att.URL)
	if err != nil {
		return "", err
	}
	p.logger.Debug("fetched attachment", "url", att.URL, "bytes", len(data))

	img, err := Normalize(data)
	if err != nil {
		return "", fmt.Errorf("normalize image from %s: %w", att.URL, err)
	}

	encoded, quality, err := CompressToBudget(img)
	if err != nil {
		return "", fmt.Errorf("compress image from %s: %w", att.URL, err)
	}
	p.logger.Debug("compressed attachment", "url", att.URL, "bytes", len(encoded), "quality", quality)

	if len(encoded) > hardLimitBytes {
		return "", fmt.Errorf("image from %s is %d bytes after compression, over the %d byte limit",
			att.URL, len(encoded), hardLimitBytes)
	}

	return p.UploadWithRetry(ctx, encoded, "image/jpeg", att.AltText, upload)
}

// Transfer moves an already platform-sized image to the target: fetch, then
// upload with retry, without recompression.
func (p *Pipeline) Transfer(ctx context.Context, att domain.MediaAttachment, upload domain.MediaUploadFunc) (string, error) {
	if att.Kind != domain.MediaImage {
		return "", fmt.Errorf("unsupported media kind %q", att.Kind)
	}

	data, err := p.Fetch(ctx, att.URL)
	if err != nil {
		return "", err
	}
	return p.UploadWithRetry(ctx, data, "image/jpeg", att.AltText, upload)
}

// Fetch downloads the attachment bytes. Any non-200 response is a failure.
func (p *Pipeline) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", url, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

// Normalize decodes the image and redraws it into a fresh RGB pixel buffer.
// Rebuilding the buffer discards everything that is not pixels, including
// EXIF and location metadata.
func Normalize(data []byte) (image.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst, nil
}

// CompressToBudget re-encodes the image as JPEG, starting at quality 95 and
// decreasing by 5 per iteration until the encoding fits the budget or the
// quality floor of 20 is reached, whichever comes first. A simple monotonic
// search; attachments are few per post, so simplicity beats speed. Returns
// the encoded bytes and the final quality.
func CompressToBudget(img image.Image) ([]byte, int, error) {
	quality := qualityStart
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, fmt.Errorf("encode jpeg at quality %d: %w", quality, err)
		}
		if buf.Len() <= compressBudgetBytes || quality <= qualityFloor {
			return buf.Bytes(), quality, nil
		}
		quality -= qualityStep
	}
}

// UploadWithRetry attempts the upload up to five times, sleeping 1, 2, 4, 8
// and 16 seconds after failed attempts. A response without a blob reference
// is retried exactly like a transport failure; an authentication failure is
// returned immediately so the session layer can handle it. Exhausting the
// budget fails only this attachment, never the post.
func (p *Pipeline) UploadWithRetry(ctx context.Context, data []byte, mimeType, altText string, upload domain.MediaUploadFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		ref, err := upload(ctx, data, mimeType, altText)
		if err == nil && ref != "" {
			return ref, nil
		}
		if err != nil && errors.Is(err, domain.ErrAuthentication) {
			return "", err
		}
		if err == nil {
			err = errors.New("upload response missing blob reference")
		}
		lastErr = err
		p.logger.Warn("media upload failed", "attempt", attempt, "max_attempts", uploadAttempts, "error", err)

		delay := backoffBase << (attempt - 1)
		if sleepErr := p.sleep.Sleep(ctx, delay); sleepErr != nil {
			return "", fmt.Errorf("upload aborted during backoff: %w", sleepErr)
		}
	}
	return "", fmt.Errorf("upload failed after %d attempts: %w", uploadAttempts, lastErr)
}
