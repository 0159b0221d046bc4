package domain

import "fmt"

// Outcome is the result of processing a single source post.
type Outcome string

const (
	// OutcomeSynced indicates the post was published and recorded.
	OutcomeSynced Outcome = "synced"

	// OutcomeSkippedIneligible indicates the post failed the eligibility
	// filter.
	OutcomeSkippedIneligible Outcome = "skipped_ineligible"

	// OutcomeSkippedSynced indicates the ledger already holds a pair for
	// the post.
	OutcomeSkippedSynced Outcome = "skipped_already_synced"

	// OutcomeFailed indicates transcode or publish failed; the failure was
	// contained to this post.
	OutcomeFailed Outcome = "failed"
)

// PostResult records the outcome for one source post within a cycle.
type PostResult struct {
	PostID   string
	Outcome  Outcome
	TargetID string // set when Outcome is OutcomeSynced
	Err      error  // set when Outcome is OutcomeFailed
}

// CycleSummary aggregates the per-post results of one directional cycle.
type CycleSummary struct {
	Direction Direction
	Fetched   int
	Results   []PostResult
}

// Synced returns the number of posts published this cycle.
func (s *CycleSummary) Synced() int { return s.count(OutcomeSynced) }

// Skipped returns the number of posts skipped as ineligible or already
// synced.
func (s *CycleSummary) Skipped() int {
	return s.count(OutcomeSkippedIneligible) + s.count(OutcomeSkippedSynced)
}

// Failed returns the number of posts whose transcode or publish failed.
func (s *CycleSummary) Failed() int { return s.count(OutcomeFailed) }

func (s *CycleSummary) count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// String renders the summary in log-friendly form.
func (s *CycleSummary) String() string {
	return fmt.Sprintf("%s: fetched=%d synced=%d skipped=%d failed=%d",
		s.Direction, s.Fetched, s.Synced(), s.Skipped(), s.Failed())
}
