// Command syncd mirrors posts between a Mastodon account and a Bluesky
// account on a fixed polling cadence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/archive"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/bluesky"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/config"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/domain"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/ledger"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/mastodon"
	"github.com/CurtainTears/mastodon-bluesky-sycn/internal/media"
)

const (
	loginAttempts = 3
	loginWait     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		once       bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("SYNC_CONFIG"), "path to YAML config file (optional; env vars also apply)")
	flag.BoolVar(&once, "once", false, "run a single sync cycle and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.Sync.RequestTimeout.Std()}

	masto := mastodon.NewClient(cfg.Mastodon.InstanceURL, cfg.Mastodon.AccessToken, httpClient)
	bsky := bluesky.NewClient(cfg.Bluesky.PDS, httpClient)

	if err := loginWithRetry(ctx, bsky, cfg.Bluesky.Identifier, cfg.Bluesky.AppPassword, logger); err != nil {
		return fmt.Errorf("login to bluesky: %w", err)
	}
	logger.Info("authenticated with bluesky", "did", bsky.DID(), "handle", bsky.Handle())

	account, err := masto.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("verify mastodon credentials: %w", err)
	}
	logger.Info("authenticated with mastodon", "account_id", account.ID, "acct", account.Acct)

	store, closeStore, err := openStore(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer closeStore()

	led := ledger.New(store, logger)
	pipeline := media.NewPipeline(httpClient, media.SystemSleeper{}, logger)

	mastodonAttribution := cfg.Mastodon.Attribution
	if mastodonAttribution == "" {
		mastodonAttribution = fediverseAddress(account, cfg.Mastodon.InstanceURL)
	}

	services := []*domain.SyncService{
		domain.NewSyncService(domain.SyncServiceParams{
			Direction:     domain.MastodonToBluesky,
			Source:        masto,
			Target:        bsky,
			SourceAccount: account.ID,
			Window:        cfg.Sync.MastodonWindow,
			Transcoder:    domain.NewMastodonToBlueskyTranscoder(pipeline, bsky.UploadMedia, mastodonAttribution, logger),
			Ledger:        led,
			Archive:       fileArchive(cfg.Mastodon.ArchivePath),
			Session:       bsky,
			Logger:        logger,
		}),
		domain.NewSyncService(domain.SyncServiceParams{
			Direction:     domain.BlueskyToMastodon,
			Source:        bsky,
			Target:        masto,
			SourceAccount: bsky.DID(),
			Window:        cfg.Sync.BlueskyWindow,
			Transcoder:    domain.NewBlueskyToMastodonTranscoder(pipeline, masto.UploadMedia, cfg.Bluesky.Attribution, logger),
			Ledger:        led,
			Archive:       fileArchive(cfg.Bluesky.ArchivePath),
			Session:       bsky,
			Logger:        logger,
		}),
	}

	runAll(ctx, services, logger)
	if once {
		return nil
	}

	logger.Info("sync daemon started", "interval", cfg.Sync.Interval.Std().String())
	ticker := time.NewTicker(cfg.Sync.Interval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			runAll(ctx, services, logger)
		}
	}
}

// runAll executes both directions sequentially. A failed direction never
// blocks the other, and the scheduler always proceeds to the next cycle.
func runAll(ctx context.Context, services []*domain.SyncService, logger *slog.Logger) {
	for _, svc := range services {
		summary, err := svc.RunCycle(ctx)
		if err != nil {
			logger.Error("sync cycle failed", "error", err)
			continue
		}
		logger.Info("sync cycle finished", "summary", summary.String())
	}
}

func loginWithRetry(ctx context.Context, client *bluesky.Client, identifier, password string, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if err = client.Login(ctx, identifier, password); err == nil {
			return nil
		}
		logger.Warn("bluesky login failed", "attempt", attempt, "max_attempts", loginAttempts, "error", err)
		if attempt < loginAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(loginWait):
			}
		}
	}
	return err
}

func openStore(cfg config.Ledger) (ledger.Store, func(), error) {
	if cfg.Backend == "sqlite" {
		store, err := ledger.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return ledger.NewFileStore(cfg.Path), func() {}, nil
}

func fileArchive(path string) domain.Archiver {
	if path == "" {
		return nil
	}
	return archive.NewFileArchive(path)
}

// fediverseAddress builds the "@user@instance" form of the authenticated
// account for the attribution suffix.
func fediverseAddress(account *mastodon.Account, instanceURL string) string {
	host := instanceURL
	if u, err := url.Parse(instanceURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return "@" + account.Username + "@" + host
}
