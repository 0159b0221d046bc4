package domain

import "time"

// Platform identifies which service a post or identifier is native to.
type Platform string

const (
	PlatformMastodon Platform = "mastodon"
	PlatformBluesky  Platform = "bluesky"
)

// Direction identifies a mirroring direction between the two platforms.
type Direction string

const (
	MastodonToBluesky Direction = "mastodon_to_bluesky"
	BlueskyToMastodon Direction = "bluesky_to_mastodon"
)

// Source returns the platform posts are read from in this direction.
func (d Direction) Source() Platform {
	if d == MastodonToBluesky {
		return PlatformMastodon
	}
	return PlatformBluesky
}

// Target returns the platform posts are published to in this direction.
func (d Direction) Target() Platform {
	if d == MastodonToBluesky {
		return PlatformBluesky
	}
	return PlatformMastodon
}

// Visibility is the audience a source post was published to.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// MediaKind classifies a source post attachment. Only images are mirrored.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaOther MediaKind = "other"
)

// MediaAttachment is a single attachment on a source post, referenced by URL.
type MediaAttachment struct {
	Kind    MediaKind
	URL     string
	AltText string
}

// SourcePost is a read-only view of a post fetched from one of the platforms.
// Optional fields use the zero value for "not present": an empty InReplyTo
// means the post is not a reply, an empty BoostOf means it is not a boost or
// quote, and an empty Language means the author set no language tag.
type SourcePost struct {
	Platform   Platform
	ID         string
	Author     string
	Body       string // raw body, may contain markup
	CreatedAt  time.Time
	Visibility Visibility
	InReplyTo  string
	BoostOf    string
	Mentions   []string
	Media      []MediaAttachment
	Language   string
}

// UploadedMedia is a successfully uploaded attachment ready to be referenced
// from a published post. Ref is an opaque handle issued by the target
// platform's client; the core never inspects it.
type UploadedMedia struct {
	Ref     string
	AltText string
}

// TranscodedPost is a post mapped into the target platform's shape, ready to
// publish.
type TranscodedPost struct {
	Text      string
	CreatedAt time.Time

	// Langs carries zero or one language tag from the source post.
	Langs []string

	Media []UploadedMedia
}

// PublishResult is returned by a platform client after a successful publish.
type PublishResult struct {
	ID        string
	MediaRefs []string
}
