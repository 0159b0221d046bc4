// Package archive keeps an append-only JSON record of every fetched source
// post for offline inspection. Archiving is best-effort: the sync proceeds
// even when it fails.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

// FileArchive implements domain.Archiver over a single JSON file holding an
// array of archived posts.
type FileArchive struct {
	path string
}

// NewFileArchive creates an archive at the given path. The file is created
// on the first Archive call.
func NewFileArchive(path string) *FileArchive {
	return &FileArchive{path: path}
}

type archivedPost struct {
	Platform   string          `json:"platform"`
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	CreatedAt  string          `json:"created_at"`
	Body       string          `json:"body"`
	Visibility string          `json:"visibility"`
	Language   string          `json:"language,omitempty"`
	Media      []archivedMedia `json:"media,omitempty"`
}

type archivedMedia struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Alt  string `json:"alt,omitempty"`
}

// Archive appends the post to the archive file. Posts already archived in a
// previous cycle are skipped by id.
func (a *FileArchive) Archive(_ context.Context, post *domain.SourcePost) error {
	var posts []archivedPost
	data, err := os.ReadFile(a.path)
	switch {
	case os.IsNotExist(err):
		// first write
	case err != nil:
		return fmt.Errorf("read archive %s: %w", a.path, err)
	default:
		if err := json.Unmarshal(data, &posts); err != nil {
			return fmt.Errorf("parse archive %s: %w", a.path, err)
		}
	}

	for _, p := range posts {
		if p.ID == post.ID && p.Platform == string(post.Platform) {
			return nil
		}
	}

	entry := archivedPost{
		Platform:   string(post.Platform),
		ID:         post.ID,
		Author:     post.Author,
		CreatedAt:  post.CreatedAt.UTC().Format(time.RFC3339),
		Body:       post.Body,
		Visibility: string(post.Visibility),
		Language:   post.Language,
	}
	for _, m := range post.Media {
		entry.Media = append(entry.Media, archivedMedia{
			Kind: string(m.Kind),
			URL:  m.URL,
			Alt:  m.AltText,
		})
	}
	posts = append(posts, entry)

	out, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := os.WriteFile(a.path, out, 0o644); err != nil {
		return fmt.Errorf("write archive %s: %w", a.path, err)
	}
	return nil
}
