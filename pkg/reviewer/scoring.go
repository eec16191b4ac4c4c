package reviewer

import (
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// Averages holds team-wide means used for balance and display.
type Averages struct {
	Reviews   float64
	Approvals float64
}

// Score computes the weighted score for one reviewer. Higher scores mean the
// reviewer should be asked next. Weights are used as given.
func (s *Selector) Score(login string, stats types.ReviewerStats, avg Averages) types.ScoreResult {
	w := s.cfg.Weights
	result := types.ScoreResult{
		Reviewer: login,
		Stats:    stats,
		Factors:  make(map[string]float64, len(Factors)),
	}

	result.Factors[FactorApprovalRecency] = float64(stats.DaysSinceLastApproval.Capped(recencyCapDays)) * w.Approvals
	result.Factors[FactorReviewRecency] = float64(stats.DaysSinceLastReview.Capped(recencyCapDays)) * w.Recency
	result.Factors[FactorBalance] = (avg.Approvals - float64(stats.TotalApprovals)) * w.Balance
	result.Factors[FactorWorkload] = -float64(stats.PendingReviews) * w.Workload * workloadMultiplier

	result.Factors[FactorOverload] = 0
	if stats.PendingReviews >= s.cfg.MaxPendingReviews {
		result.Factors[FactorOverload] = -overloadPenalty
		result.Overloaded = true
	}

	for _, name := range Factors {
		result.Score += result.Factors[name]
	}
	return result
}

// Averages returns the mean reviews and approvals over the balance pool: the
// configured team when set, otherwise the reviewers eligible for author.
func (s *Selector) Averages(author string, table Table) Averages {
	return s.averages(s.balancePool(author, table), table)
}

func (s *Selector) balancePool(author string, table Table) []string {
	if len(s.cfg.Team) == 0 {
		return s.Eligible(author, table)
	}
	pool := make([]string, 0, len(s.cfg.Team))
	seen := make(map[string]bool, len(s.cfg.Team))
	for _, login := range s.cfg.Team {
		if s.skip(login) || seen[login] {
			continue
		}
		seen[login] = true
		pool = append(pool, login)
	}
	return pool
}

func (*Selector) averages(pool []string, table Table) Averages {
	if len(pool) == 0 {
		return Averages{}
	}
	var reviews, approvals int
	for _, login := range pool {
		st := table[login]
		reviews += st.TotalReviews
		approvals += st.TotalApprovals
	}
	n := float64(len(pool))
	return Averages{
		Reviews:   float64(reviews) / n,
		Approvals: float64(approvals) / n,
	}
}
