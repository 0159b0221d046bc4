package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SyncService mirrors posts in one direction. Two instances exist per
// process, one per direction, sharing the same Ledger and running
// sequentially, so the ledger needs no locking.
type SyncService struct {
	direction     Direction
	source        PlatformClient
	target        PlatformClient
	sourceAccount string
	window        int
	transcoder    Transcoder
	ledger        Ledger
	archive       Archiver
	session       SessionRefresher
	logger        *slog.Logger
}

// SyncServiceParams collects the collaborators of a SyncService. Archive and
// Session are optional; the rest are required.
type SyncServiceParams struct {
	Direction     Direction
	Source        PlatformClient
	Target        PlatformClient
	SourceAccount string

	// Window is the fixed number of recent posts fetched each cycle.
	Window int

	Transcoder Transcoder
	Ledger     Ledger

	// Archive, when set, receives every fetched post for offline
	// inspection. Archive failures are logged, never fatal.
	Archive Archiver

	// Session, when set, is refreshed once per cycle on an authentication
	// failure, and the cycle is re-attempted once.
	Session SessionRefresher

	Logger *slog.Logger
}

// NewSyncService creates the orchestrator for one direction.
func NewSyncService(p SyncServiceParams) *SyncService {
	return &SyncService{
		direction:     p.Direction,
		source:        p.Source,
		target:        p.Target,
		sourceAccount: p.SourceAccount,
		window:        p.Window,
		transcoder:    p.Transcoder,
		ledger:        p.Ledger,
		archive:       p.Archive,
		session:       p.Session,
		logger:        p.Logger,
	}
}

// RunCycle executes one sync cycle for this direction: reload the ledger,
// fetch the recent-posts window, then process each post in source order. A
// per-post failure is contained; a window-fetch or ledger-persistence
// failure aborts the cycle. On an authentication failure the session is
// refreshed once and the whole cycle re-attempted once; the ledger makes a
// blind re-run safe.
func (s *SyncService) RunCycle(ctx context.Context) (*CycleSummary, error) {
	summary, err := s.runCycle(ctx)
	if err == nil || !errors.Is(err, ErrAuthentication) || s.session == nil {
		return summary, err
	}

	s.logger.Warn("authentication failure, refreshing session and re-attempting cycle",
		"direction", s.direction, "error", err)
	if refreshErr := s.session.Refresh(ctx); refreshErr != nil {
		return summary, fmt.Errorf("refresh session: %w", refreshErr)
	}
	return s.runCycle(ctx)
}

func (s *SyncService) runCycle(ctx context.Context) (*CycleSummary, error) {
	if err := s.ledger.Load(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	posts, err := s.source.FetchRecentPosts(ctx, s.sourceAccount, s.window)
	if err != nil {
		return nil, fmt.Errorf("fetch recent posts from %s: %w", s.direction.Source(), err)
	}
	s.logger.Info("fetched recent posts", "direction", s.direction, "count", len(posts))

	summary := &CycleSummary{Direction: s.direction, Fetched: len(posts)}
	for i := range posts {
		post := &posts[i]
		if s.archive != nil {
			if err := s.archive.Archive(ctx, post); err != nil {
				s.logger.Warn("failed to archive post", "post_id", post.ID, "error", err)
			}
		}

		result, err := s.syncPost(ctx, post)
		summary.Results = append(summary.Results, result)
		if err != nil {
			return summary, err
		}
	}

	s.logger.Info("cycle complete", "direction", s.direction,
		"synced", summary.Synced(), "skipped", summary.Skipped(), "failed", summary.Failed())
	return summary, nil
}

// syncPost processes one post. The returned error is non-nil only for
// cycle-fatal conditions (authentication, ledger persistence); everything
// else is contained in the PostResult.
func (s *SyncService) syncPost(ctx context.Context, post *SourcePost) (PostResult, error) {
	if !IsEligible(post) {
		s.logger.Debug("skipping ineligible post", "direction", s.direction, "post_id", post.ID)
		return PostResult{PostID: post.ID, Outcome: OutcomeSkippedIneligible}, nil
	}

	if s.ledger.IsSynced(post.ID, s.direction) {
		s.logger.Debug("post already synced", "direction", s.direction, "post_id", post.ID)
		return PostResult{PostID: post.ID, Outcome: OutcomeSkippedSynced}, nil
	}

	transcoded, err := s.transcoder.Transcode(ctx, post)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return PostResult{PostID: post.ID, Outcome: OutcomeFailed, Err: err}, err
		}
		s.logger.Warn("transcode failed", "direction", s.direction, "post_id", post.ID, "error", err)
		return PostResult{PostID: post.ID, Outcome: OutcomeFailed, Err: err}, nil
	}

	resp, err := s.target.Publish(ctx, transcoded)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return PostResult{PostID: post.ID, Outcome: OutcomeFailed, Err: err}, err
		}
		s.logger.Warn("publish failed", "direction", s.direction, "post_id", post.ID, "error", err)
		return PostResult{PostID: post.ID, Outcome: OutcomeFailed, Err: err}, nil
	}

	if err := s.ledger.MarkSynced(ctx, post.ID, resp.ID, s.direction); err != nil {
		// A masked persistence failure would let the in-memory ledger
		// diverge from durable state and re-publish after restart.
		err = fmt.Errorf("record synced pair (%s, %s): %w", post.ID, resp.ID, err)
		return PostResult{PostID: post.ID, Outcome: OutcomeFailed, TargetID: resp.ID, Err: err}, err
	}

	s.logger.Info("post synced", "direction", s.direction, "post_id", post.ID, "target_id", resp.ID)
	return PostResult{PostID: post.ID, Outcome: OutcomeSynced, TargetID: resp.ID}, nil
}
