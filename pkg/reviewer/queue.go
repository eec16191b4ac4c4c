package reviewer

import (
	"log/slog"
	"sort"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// Queue returns up to count reviewers ranked by score, best first.
// A count of zero or less returns the whole ranking. ok is false when no
// reviewer is eligible.
func (s *Selector) Queue(author string, count int, table Table) (results []types.ScoreResult, ok bool) {
	ranked := s.rank(author, table)
	if len(ranked) == 0 {
		return nil, false
	}
	if count > 0 && count < len(ranked) {
		ranked = ranked[:count]
	}
	return ranked, true
}

// Elect returns the single best reviewer for a pull request by author.
// ok is false when no reviewer is eligible.
func (s *Selector) Elect(author string, table Table) (types.ScoreResult, bool) {
	ranked, ok := s.Queue(author, 1, table)
	if !ok {
		return types.ScoreResult{}, false
	}
	return ranked[0], true
}

// rank scores every eligible reviewer and sorts them by descending score.
// Equal scores keep eligibility order.
func (s *Selector) rank(author string, table Table) []types.ScoreResult {
	eligible := s.Eligible(author, table)
	if len(eligible) == 0 {
		return nil
	}

	avg := s.averages(s.balancePool(author, table), table)
	results := make([]types.ScoreResult, 0, len(eligible))
	for _, login := range eligible {
		results = append(results, s.Score(login, table[login], avg))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	for i, r := range results {
		if i >= topCandidatesToLog {
			break
		}
		slog.Debug("Candidate scored", "rank", i+1, "reviewer", r.Reviewer, "score", r.Score,
			"approval_recency", r.Factors[FactorApprovalRecency], "review_recency", r.Factors[FactorReviewRecency],
			"balance", r.Factors[FactorBalance], "workload", r.Factors[FactorWorkload], "overload", r.Factors[FactorOverload])
	}
	return results
}
