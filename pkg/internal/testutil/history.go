package testutil

import (
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// PRBuilder assembles a closed pull request for review history.
type PRBuilder struct {
	pr types.PullRequest
}

// ClosedPR starts a pull request by author closed at closedAt.
func ClosedPR(number int, author string, closedAt time.Time) *PRBuilder {
	return &PRBuilder{pr: types.PullRequest{
		Number:   number,
		Author:   author,
		Title:    "change",
		ClosedAt: closedAt,
	}}
}

// Review adds a review in the given state.
func (b *PRBuilder) Review(login string, state types.ReviewState, at time.Time) *PRBuilder {
	b.pr.Reviews = append(b.pr.Reviews, types.Review{Author: login, State: state, SubmittedAt: at})
	return b
}

// Approve adds an approving review.
func (b *PRBuilder) Approve(login string, at time.Time) *PRBuilder {
	return b.Review(login, types.ReviewApproved, at)
}

// Request records review requests that were never answered.
func (b *PRBuilder) Request(logins ...string) *PRBuilder {
	b.pr.ReviewRequests = append(b.pr.ReviewRequests, logins...)
	return b
}

// Build returns the pull request.
func (b *PRBuilder) Build() types.PullRequest {
	return b.pr
}

// OpenPR returns an open pull request waiting on requested.
func OpenPR(number int, author string, requested ...string) types.OpenPullRequest {
	return types.OpenPullRequest{
		Number:         number,
		Author:         author,
		Title:          "work in progress",
		State:          "OPEN",
		ReviewRequests: requested,
	}
}
