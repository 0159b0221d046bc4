package domain

import "strings"

// IsEligible reports whether a fetched post qualifies for mirroring. A post
// is rejected if it is a reply, a boost or quote, mentions other accounts,
// or is not public. Mirroring any of those across platforms produces
// contextless cross-posts.
//
// A literal "@" anywhere in the raw body counts as a mention even when the
// structured mention list is empty, so a post that merely discusses an
// email-like string is also suppressed.
func IsEligible(post *SourcePost) bool {
	if post.InReplyTo != "" || post.BoostOf != "" {
		return false
	}
	if len(post.Mentions) > 0 || strings.Contains(post.Body, "@") {
		return false
	}
	return post.Visibility == VisibilityPublic
}
