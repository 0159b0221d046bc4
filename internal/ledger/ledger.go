// Package ledger implements the durable idempotency store pairing
// cross-platform post identifiers.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

// Store is the durable persistence boundary of the ledger: a single small
// document, read and written whole. File-like, but swappable for any durable
// store.
type Store interface {
	// ReadAll returns the serialized ledger, or (nil, nil) when no ledger
	// has been written yet.
	ReadAll(ctx context.Context) ([]byte, error)

	// WriteAll durably replaces the serialized ledger.
	WriteAll(ctx context.Context, data []byte) error
}

const (
	slotMastodon = 0
	slotBluesky  = 1
)

// Ledger is the idempotency authority shared by both sync directions. Each
// entry is an unordered pair [idMastodon, idBluesky] denoting "these two
// posts are the same logical post". Entries are append-only: both
// orchestrators read and append but never mutate or delete.
//
// Ledger is not safe for concurrent use; the two directions run
// sequentially.
type Ledger struct {
	store  Store
	pairs  [][2]string
	logger *slog.Logger
}

// New creates a Ledger over the given store. Call Load before querying.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Load rehydrates the ledger from the store. An absent document yields an
// empty ledger. A malformed document also yields an empty ledger with a
// logged warning; already-mirrored posts may be re-sent once after that.
func (l *Ledger) Load(ctx context.Context) error {
	data, err := l.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		l.pairs = nil
		return nil
	}

	pairs, err := decodePairs(data)
	if err != nil {
		l.logger.Warn("ledger storage is malformed, starting with an empty ledger", "error", err)
		l.pairs = nil
		return nil
	}
	l.pairs = pairs
	return nil
}

// IsSynced reports whether postID, native to the source platform of dir,
// already appears in its slot of any stored pair.
func (l *Ledger) IsSynced(postID string, dir domain.Direction) bool {
	slot := sourceSlot(dir)
	for _, pair := range l.pairs {
		if pair[slot] == postID {
			return true
		}
	}
	return false
}

// MarkSynced appends the pair for a newly mirrored post and persists the
// full ledger synchronously before returning. A sourceID already present in
// its slot is a no-op: a post is mirrored at most once per direction. A
// persistence failure is returned to the caller, never masked.
func (l *Ledger) MarkSynced(ctx context.Context, sourceID, targetID string, dir domain.Direction) error {
	if l.IsSynced(sourceID, dir) {
		l.logger.Debug("pair already recorded", "source_id", sourceID, "direction", dir)
		return nil
	}

	var pair [2]string
	pair[sourceSlot(dir)] = sourceID
	pair[targetSlot(dir)] = targetID
	l.pairs = append(l.pairs, pair)

	data, err := encodePairs(l.pairs)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := l.store.WriteAll(ctx, data); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Entries returns a copy of all stored pairs in append order. Each pair is
// [idMastodon, idBluesky].
func (l *Ledger) Entries() [][2]string {
	out := make([][2]string, len(l.pairs))
	copy(out, l.pairs)
	return out
}

// Len returns the number of stored pairs.
func (l *Ledger) Len() int { return len(l.pairs) }

func sourceSlot(dir domain.Direction) int {
	if dir == domain.MastodonToBluesky {
		return slotMastodon
	}
	return slotBluesky
}

func targetSlot(dir domain.Direction) int {
	if dir == domain.MastodonToBluesky {
		return slotBluesky
	}
	return slotMastodon
}

// decodePairs parses the serialized form: a JSON array of 2-element string
// arrays.
func decodePairs(data []byte) ([][2]string, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 2 {
			return nil, fmt.Errorf("entry %d has %d elements, want 2", i, len(entry))
		}
		pairs = append(pairs, [2]string{entry[0], entry[1]})
	}
	return pairs, nil
}

func encodePairs(pairs [][2]string) ([]byte, error) {
	return json.MarshalIndent(pairs, "", "  ")
}
