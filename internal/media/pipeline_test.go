package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestPipeline(sleep *recordingSleeper) *Pipeline {
	return NewPipeline(&http.Client{Timeout: 5 * time.Second}, sleep, testLogger())
}

// noiseImage builds an image that compresses poorly, so the quality search
// has work to do.
func noiseImage(side int) image.Image {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func flatImage(side int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 200, A: 255})
		}
	}
	return img
}

func TestUploadWithRetryBound(t *testing.T) {
	t.Parallel()

	sleep := &recordingSleeper{}
	p := newTestPipeline(sleep)

	attempts := 0
	upload := func(context.Context, []byte, string, string) (string, error) {
		attempts++
		return "", errors.New("connection reset")
	}

	ref, err := p.UploadWithRetry(context.Background(), []byte("data"), "image/jpeg", "", upload)
	if err == nil {
		t.Fatal("UploadWithRetry must fail when every attempt fails")
	}
	if ref != "" {
		t.Errorf("ref = %q, want empty", ref)
	}
	if attempts != 5 {
		t.Errorf("upload attempted %d times, want exactly 5", attempts)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(sleep.delays) != len(want) {
		t.Fatalf("recorded %d delays (%v), want %d", len(sleep.delays), sleep.delays, len(want))
	}
	for i := range want {
		if sleep.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, sleep.delays[i], want[i])
		}
	}
}

func TestUploadWithRetryMalformedResponseRetried(t *testing.T) {
	t.Parallel()

	sleep := &recordingSleeper{}
	p := newTestPipeline(sleep)

	attempts := 0
	upload := func(context.Context, []byte, string, string) (string, error) {
		attempts++
		return "", nil // no error, but no blob reference either
	}

	if _, err := p.UploadWithRetry(context.Background(), []byte("data"), "image/jpeg", "", upload); err == nil {
		t.Fatal("a response without a blob reference must count as a failure")
	}
	if attempts != 5 {
		t.Errorf("upload attempted %d times, want 5", attempts)
	}
}

func TestUploadWithRetryRecoversMidBudget(t *testing.T) {
	t.Parallel()

	sleep := &recordingSleeper{}
	p := newTestPipeline(sleep)

	attempts := 0
	upload := func(context.Context, []byte, string, string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("flaky")
		}
		return "blob-ref", nil
	}

	ref, err := p.UploadWithRetry(context.Background(), []byte("data"), "image/jpeg", "", upload)
	if err != nil {
		t.Fatalf("UploadWithRetry failed: %v", err)
	}
	if ref != "blob-ref" {
		t.Errorf("ref = %q, want blob-ref", ref)
	}
	if len(sleep.delays) != 2 {
		t.Errorf("recorded %d delays, want 2 (one per failed attempt)", len(sleep.delays))
	}
}

func TestUploadWithRetryAuthFailureNotRetried(t *testing.T) {
	t.Parallel()

	sleep := &recordingSleeper{}
	p := newTestPipeline(sleep)

	attempts := 0
	upload := func(context.Context, []byte, string, string) (string, error) {
		attempts++
		return "", fmt.Errorf("upload: %w", domain.ErrAuthentication)
	}

	_, err := p.UploadWithRetry(context.Background(), []byte("data"), "image/jpeg", "", upload)
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("error = %v, want ErrAuthentication", err)
	}
	if attempts != 1 {
		t.Errorf("upload attempted %d times, want 1: auth failures are not retried here", attempts)
	}
	if len(sleep.delays) != 0 {
		t.Errorf("recorded %d delays, want 0", len(sleep.delays))
	}
}

func TestFetchNon200IsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestPipeline(&recordingSleeper{})
	if _, err := p.Fetch(context.Background(), srv.URL+"/gone.jpg"); err == nil {
		t.Fatal("Fetch must fail on a non-200 response")
	}
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	p := newTestPipeline(&recordingSleeper{})
	data, err := p.Fetch(context.Background(), srv.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("data = %q, want image-bytes", data)
	}
}

func TestNormalizeRedrawsPixels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatImage(32), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	img, err := Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 32 || got.Dy() != 32 {
		t.Errorf("bounds = %v, want 32x32", got)
	}
	if _, ok := img.(*image.RGBA); !ok {
		t.Errorf("normalized image is %T, want a fresh *image.RGBA buffer", img)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Normalize([]byte("definitely not an image")); err == nil {
		t.Fatal("Normalize must fail on undecodable input")
	}
}

func TestCompressToBudgetSmallImageKeepsTopQuality(t *testing.T) {
	t.Parallel()

	data, quality, err := CompressToBudget(flatImage(64))
	if err != nil {
		t.Fatalf("CompressToBudget failed: %v", err)
	}
	if quality != 95 {
		t.Errorf("quality = %d, want 95 for an image already under budget", quality)
	}
	if len(data) > compressBudgetBytes {
		t.Errorf("size = %d, want <= %d", len(data), compressBudgetBytes)
	}
}

func TestCompressToBudgetConvergence(t *testing.T) {
	t.Parallel()

	img := noiseImage(1600)

	var check bytes.Buffer
	if err := jpeg.Encode(&check, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if check.Len() <= compressBudgetBytes {
		t.Skip("fixture image unexpectedly fits the budget at quality 95")
	}

	data, quality, err := CompressToBudget(img)
	if err != nil {
		t.Fatalf("CompressToBudget failed: %v", err)
	}
	if quality < 20 || quality > 95 {
		t.Errorf("quality = %d, want within [20, 95]", quality)
	}
	if quality < 95 && (95-quality)%5 != 0 {
		t.Errorf("quality = %d, want a multiple-of-5 step below 95", quality)
	}
	if len(data) > compressBudgetBytes && quality != 20 {
		t.Errorf("size = %d over budget at quality %d: must only stop over budget at the quality floor",
			len(data), quality)
	}
}

func TestProcessRejectsNonImageKinds(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&recordingSleeper{})
	att := domain.MediaAttachment{Kind: domain.MediaVideo, URL: "https://example.com/clip.mp4"}
	upload := func(context.Context, []byte, string, string) (string, error) { return "ref", nil }

	if _, err := p.Process(context.Background(), att, upload); err == nil {
		t.Fatal("Process must reject non-image attachments")
	}
}

func TestProcessEndToEnd(t *testing.T) {
	t.Parallel()

	var fixture bytes.Buffer
	if err := jpeg.Encode(&fixture, flatImage(48), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(fixture.Bytes())
	}))
	defer srv.Close()

	p := newTestPipeline(&recordingSleeper{})

	var uploadedMime string
	var uploadedBytes []byte
	upload := func(_ context.Context, data []byte, mimeType, _ string) (string, error) {
		uploadedBytes = data
		uploadedMime = mimeType
		return "blob-ref", nil
	}

	att := domain.MediaAttachment{Kind: domain.MediaImage, URL: srv.URL + "/photo.jpg", AltText: "a photo"}
	ref, err := p.Process(context.Background(), att, upload)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if ref != "blob-ref" {
		t.Errorf("ref = %q, want blob-ref", ref)
	}
	if uploadedMime != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", uploadedMime)
	}
	// The uploaded bytes are a fresh encode, decodable and within budget.
	if _, err := jpeg.Decode(bytes.NewReader(uploadedBytes)); err != nil {
		t.Errorf("uploaded bytes are not a valid jpeg: %v", err)
	}
	if len(uploadedBytes) > hardLimitBytes {
		t.Errorf("uploaded %d bytes, over the hard limit", len(uploadedBytes))
	}
}

func TestTransferSkipsRecompression(t *testing.T) {
	t.Parallel()

	payload := []byte("already-sized-image-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p := newTestPipeline(&recordingSleeper{})
	var uploaded []byte
	upload := func(_ context.Context, data []byte, _, _ string) (string, error) {
		uploaded = data
		return "media-1", nil
	}

	att := domain.MediaAttachment{Kind: domain.MediaImage, URL: srv.URL + "/full.jpg"}
	ref, err := p.Transfer(context.Background(), att, upload)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if ref != "media-1" {
		t.Errorf("ref = %q, want media-1", ref)
	}
	if !bytes.Equal(uploaded, payload) {
		t.Error("Transfer must pass the fetched bytes through untouched")
	}
}
