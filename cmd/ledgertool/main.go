// Command ledgertool inspects and migrates the sync ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/ledger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		backend   string
		path      string
		list      bool
		toBackend string
		toPath    string
	)

	flag.StringVar(&backend, "backend", envOrDefault("LEDGER_BACKEND", "file"), "ledger backend: file or sqlite")
	flag.StringVar(&path, "path", envOrDefault("LEDGER_PATH", "sync_status.json"), "ledger path")
	flag.BoolVar(&list, "list", false, "print all ledger entries")
	flag.StringVar(&toBackend, "migrate-to-backend", "", "migrate the ledger to this backend (file or sqlite)")
	flag.StringVar(&toPath, "migrate-to-path", "", "destination path for migration")
	flag.Parse()

	if !list && toBackend == "" {
		return fmt.Errorf("nothing to do: pass -list or -migrate-to-backend")
	}

	ctx := context.Background()

	store, closeStore, err := openStore(backend, path)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer closeStore()

	if list {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		led := ledger.New(store, logger)
		if err := led.Load(ctx); err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		for _, pair := range led.Entries() {
			fmt.Printf("mastodon=%s\tbluesky=%s\n", pair[0], pair[1])
		}
		fmt.Printf("%d entries\n", led.Len())
	}

	if toBackend != "" {
		if toPath == "" {
			return fmt.Errorf("-migrate-to-path is required with -migrate-to-backend")
		}

		data, err := store.ReadAll(ctx)
		if err != nil {
			return fmt.Errorf("read source ledger: %w", err)
		}
		if data == nil {
			return fmt.Errorf("source ledger at %s is empty, nothing to migrate", path)
		}

		dst, closeDst, err := openStore(toBackend, toPath)
		if err != nil {
			return fmt.Errorf("open destination store: %w", err)
		}
		defer closeDst()

		if err := dst.WriteAll(ctx, data); err != nil {
			return fmt.Errorf("write destination ledger: %w", err)
		}
		fmt.Printf("migrated ledger from %s (%s) to %s (%s)\n", path, backend, toPath, toBackend)
	}

	return nil
}

func openStore(backend, path string) (ledger.Store, func(), error) {
	switch backend {
	case "file":
		return ledger.NewFileStore(path), func() {}, nil
	case "sqlite":
		store, err := ledger.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
