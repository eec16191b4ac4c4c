package reviewer

import (
	"sort"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// Table maps an identity to its review statistics.
type Table map[string]types.ReviewerStats

// Logins returns the identities in the table sorted by name.
func (t Table) Logins() []string {
	logins := make([]string, 0, len(t))
	for login := range t {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// Aggregate folds closed pull request history and open pull requests into a
// statistics table. Every non-bot team member has a row even without history.
// Input order does not affect the result.
func (s *Selector) Aggregate(history []types.PullRequest, open []types.OpenPullRequest) Table {
	rows := make(map[string]*types.ReviewerStats)
	row := func(login string) *types.ReviewerStats {
		st, ok := rows[login]
		if !ok {
			st = &types.ReviewerStats{}
			rows[login] = st
		}
		return st
	}

	for _, login := range s.cfg.Team {
		if s.skip(login) {
			continue
		}
		row(login)
	}

	for _, pr := range s.lookback(history) {
		for _, rv := range pr.Reviews {
			if s.skip(rv.Author) {
				continue
			}
			st := row(rv.Author)
			at := rv.SubmittedAt
			if at.IsZero() {
				at = pr.ClosedAt
			}

			st.TotalReviews++
			if at.After(st.LastReviewDate) {
				st.LastReviewDate = at
			}
			if rv.State == types.ReviewApproved {
				st.TotalApprovals++
				if at.After(st.LastApprovalDate) {
					st.LastApprovalDate = at
				}
			}
		}
		for _, login := range pr.ReviewRequests {
			if s.skip(login) {
				continue
			}
			row(login)
		}
	}

	for _, pr := range open {
		for _, login := range pr.ReviewRequests {
			if s.skip(login) {
				continue
			}
			row(login).PendingReviews++
		}
	}

	now := s.now()
	table := make(Table, len(rows))
	for login, st := range rows {
		st.DaysSinceLastReview = types.DaysBetween(st.LastReviewDate, now)
		st.DaysSinceLastApproval = types.DaysBetween(st.LastApprovalDate, now)
		table[login] = *st
	}
	return table
}

// lookback returns the LookbackPRs most recently closed pull requests,
// newest first. The input slice is never reordered.
func (s *Selector) lookback(history []types.PullRequest) []types.PullRequest {
	if s.cfg.LookbackPRs <= 0 || len(history) <= s.cfg.LookbackPRs {
		return history
	}
	sorted := make([]types.PullRequest, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ClosedAt.Equal(sorted[j].ClosedAt) {
			return sorted[i].ClosedAt.After(sorted[j].ClosedAt)
		}
		return sorted[i].Number > sorted[j].Number
	})
	return sorted[:s.cfg.LookbackPRs]
}
