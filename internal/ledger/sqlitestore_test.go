package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreReadAllAbsent(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	data, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if data != nil {
		t.Errorf("data = %q, want nil before the first write", data)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.WriteAll(ctx, []byte(`[["m-1","b-1"]]`)); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if err := store.WriteAll(ctx, []byte(`[["m-1","b-1"],["m-2","b-2"]]`)); err != nil {
		t.Fatalf("second WriteAll failed: %v", err)
	}

	data, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != `[["m-1","b-1"],["m-2","b-2"]]` {
		t.Errorf("data = %q, want the latest document", data)
	}
}

func TestLedgerOverSQLiteStore(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	led := New(store, testLogger())
	if err := led.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := led.MarkSynced(ctx, "m-1", "b-1", domain.MastodonToBluesky); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	led2 := New(store, testLogger())
	if err := led2.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !led2.IsSynced("m-1", domain.MastodonToBluesky) {
		t.Error("pair lost across ledger reload on sqlite store")
	}
}
