package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// maxBlueskyRunes is the Bluesky-bound text budget before the ellipsis
// marker and attribution suffix are appended.
const maxBlueskyRunes = 250

// ellipsis marks truncated text. A single rune, so truncated text is always
// exactly maxBlueskyRunes+1 runes long.
const ellipsis = "…"

// markupPattern strips HTML-style tags from Mastodon post bodies.
var markupPattern = regexp.MustCompile(`<[^<]+?>`)

// StripMarkup removes markup tags from a raw post body, leaving plain text.
func StripMarkup(body string) string {
	return markupPattern.ReplaceAllString(body, "")
}

// MastodonToBlueskyTranscoder maps a Mastodon status onto a Bluesky post:
// markup stripped, text truncated to the Bluesky budget, an attribution
// suffix naming the origin account appended, and image attachments run
// through the full media pipeline.
type MastodonToBlueskyTranscoder struct {
	pipeline    MediaPipeline
	upload      MediaUploadFunc
	attribution string
	logger      *slog.Logger
}

// NewMastodonToBlueskyTranscoder creates the Mastodon→Bluesky transcoder.
// attribution names the origin account (e.g. "@user@instance.example") and
// is appended to every mirrored post.
func NewMastodonToBlueskyTranscoder(pipeline MediaPipeline, upload MediaUploadFunc, attribution string, logger *slog.Logger) *MastodonToBlueskyTranscoder {
	return &MastodonToBlueskyTranscoder{
		pipeline:    pipeline,
		upload:      upload,
		attribution: attribution,
		logger:      logger,
	}
}

// Transcode converts one Mastodon status. A failed attachment is dropped and
// the post proceeds text-only; only an authentication failure aborts.
func (t *MastodonToBlueskyTranscoder) Transcode(ctx context.Context, post *SourcePost) (*TranscodedPost, error) {
	text := StripMarkup(post.Body)
	if runes := []rune(text); len(runes) > maxBlueskyRunes {
		text = string(runes[:maxBlueskyRunes]) + ellipsis
	}
	if t.attribution != "" {
		text += "\nfrom mastodon " + t.attribution
	}

	langs := []string{}
	if post.Language != "" {
		langs = []string{post.Language}
	}

	out := &TranscodedPost{
		Text:      text,
		CreatedAt: post.CreatedAt,
		Langs:     langs,
	}

	media, err := collectMedia(ctx, post, t.pipeline.Process, t.upload, t.logger)
	if err != nil {
		return nil, err
	}
	out.Media = media
	return out, nil
}

// BlueskyToMastodonTranscoder maps a Bluesky post onto a Mastodon status.
// Mastodon's text ceiling exceeds Bluesky's, so the body is carried verbatim;
// the attribution suffix is optional and appended only when configured.
// Images are fetched and re-uploaded without recompression.
type BlueskyToMastodonTranscoder struct {
	pipeline    MediaPipeline
	upload      MediaUploadFunc
	attribution string
	logger      *slog.Logger
}

// NewBlueskyToMastodonTranscoder creates the Bluesky→Mastodon transcoder.
// An empty attribution disables the suffix.
func NewBlueskyToMastodonTranscoder(pipeline MediaPipeline, upload MediaUploadFunc, attribution string, logger *slog.Logger) *BlueskyToMastodonTranscoder {
	return &BlueskyToMastodonTranscoder{
		pipeline:    pipeline,
		upload:      upload,
		attribution: attribution,
		logger:      logger,
	}
}

// Transcode converts one Bluesky post. A failed image upload is logged and
// omitted from the media list; it never aborts the post.
func (t *BlueskyToMastodonTranscoder) Transcode(ctx context.Context, post *SourcePost) (*TranscodedPost, error) {
	text := post.Body
	if t.attribution != "" {
		text += "\n\nfrom bluesky " + t.attribution
	}

	langs := []string{}
	if post.Language != "" {
		langs = []string{post.Language}
	}

	out := &TranscodedPost{
		Text:      text,
		CreatedAt: post.CreatedAt,
		Langs:     langs,
	}

	media, err := collectMedia(ctx, post, t.pipeline.Transfer, t.upload, t.logger)
	if err != nil {
		return nil, err
	}
	out.Media = media
	return out, nil
}

type mediaStage func(ctx context.Context, att MediaAttachment, upload MediaUploadFunc) (string, error)

// collectMedia runs every image attachment through the given pipeline stage.
// Non-image attachments are skipped. A per-attachment failure drops that
// attachment; an authentication failure propagates.
func collectMedia(ctx context.Context, post *SourcePost, stage mediaStage, upload MediaUploadFunc, logger *slog.Logger) ([]UploadedMedia, error) {
	var media []UploadedMedia
	for _, att := range post.Media {
		if att.Kind != MediaImage {
			logger.Debug("skipping non-image attachment", "post_id", post.ID, "kind", att.Kind)
			continue
		}
		ref, err := stage(ctx, att, upload)
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				return nil, fmt.Errorf("upload attachment for post %s: %w", post.ID, err)
			}
			logger.Warn("dropping attachment", "post_id", post.ID, "url", att.URL, "error", err)
			continue
		}
		media = append(media, UploadedMedia{Ref: ref, AltText: att.AltText})
	}
	return media, nil
}
