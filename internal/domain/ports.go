package domain

import (
	"context"
	"time"
)

// PlatformClient is the per-platform API surface the sync engine depends on.
// Both the Mastodon and Bluesky clients implement it, so either platform can
// play the source or target role of a direction.
type PlatformClient interface {
	// FetchRecentPosts returns the most recent posts for the given account,
	// in the order the platform returns them. The engine preserves that
	// order; it does not assume it is chronological.
	FetchRecentPosts(ctx context.Context, accountID string, limit int) ([]SourcePost, error)

	// Publish creates a new post on the platform.
	Publish(ctx context.Context, post *TranscodedPost) (PublishResult, error)

	// UploadMedia uploads raw media bytes and returns an opaque reference
	// usable in a subsequent Publish. An authentication failure must be
	// reported via ErrAuthentication so it is not retried locally.
	UploadMedia(ctx context.Context, data []byte, mimeType, altText string) (string, error)
}

// MediaUploadFunc uploads media bytes to a target platform and returns an
// opaque blob reference. PlatformClient.UploadMedia satisfies it as a method
// value.
type MediaUploadFunc func(ctx context.Context, data []byte, mimeType, altText string) (string, error)

// MediaPipeline prepares a source attachment for the target platform.
type MediaPipeline interface {
	// Process runs the full pipeline for an image attachment: fetch,
	// strip metadata, recompress to the size budget, then upload with
	// retry. Returns the blob reference on success.
	Process(ctx context.Context, att MediaAttachment, upload MediaUploadFunc) (string, error)

	// Transfer moves an already platform-sized image to the target: fetch,
	// then upload with retry, without recompression.
	Transfer(ctx context.Context, att MediaAttachment, upload MediaUploadFunc) (string, error)
}

// Transcoder maps a source-platform post into the target platform's shape,
// uploading media as a side effect.
type Transcoder interface {
	Transcode(ctx context.Context, post *SourcePost) (*TranscodedPost, error)
}

// Ledger is the idempotency authority shared by both directions.
type Ledger interface {
	// Load rehydrates the ledger from durable storage. Corrupt storage is
	// treated as an empty ledger, not an error.
	Load(ctx context.Context) error

	// IsSynced reports whether the given source-platform post id has
	// already been mirrored in the given direction.
	IsSynced(postID string, dir Direction) bool

	// MarkSynced records a mirrored pair and persists the full ledger
	// before returning. A persistence failure is returned to the caller.
	MarkSynced(ctx context.Context, sourceID, targetID string, dir Direction) error
}

// Archiver saves raw source posts for offline inspection. Failures are
// logged by the caller and never abort the sync.
type Archiver interface {
	Archive(ctx context.Context, post *SourcePost) error
}

// SessionRefresher re-establishes an expired platform session. The sync
// service invokes it at most once per cycle when it sees ErrAuthentication.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// Sleeper abstracts backoff delays so tests can record them instead of
// waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
