// Package types contains shared data structures used across the reviewer system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// ReviewState is the state a submitted review was left in.
type ReviewState string

// Review states reported by GitHub. Other values pass through untouched.
const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
)

// Review is a single review event on a pull request.
type Review struct {
	SubmittedAt time.Time   // zero when the source did not report it
	Author      string      // empty for deleted accounts ("ghost")
	State       ReviewState
}

// PullRequest is a closed or merged pull request used as review history.
type PullRequest struct {
	ClosedAt       time.Time
	Author         string
	Title          string
	Reviews        []Review
	ReviewRequests []string
	Number         int
}

// OpenPullRequest represents a pull request that is still open.
type OpenPullRequest struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Title          string
	Author         string
	URL            string
	State          string
	Owner          string
	Repository     string
	ReviewDecision string
	HeadRef        string
	ReviewRequests []string // identities whose review is still pending
	Number         int
	Draft          bool
}

// IsOpen reports whether the pull request can still receive reviewers.
func (pr *OpenPullRequest) IsOpen() bool {
	return pr.State == "" || pr.State == "OPEN" || pr.State == "open"
}

// Days is a whole number of days, or Unbounded when the event never happened.
type Days struct {
	n   int
	set bool
}

// Unbounded marks an event that never happened. It compares greater than any cap.
var Unbounded = Days{} //nolint:gochecknoglobals // sentinel value

// DaysOf returns a bounded day count. Negative values are clamped to zero.
func DaysOf(n int) Days {
	if n < 0 {
		n = 0
	}
	return Days{n: n, set: true}
}

// DaysBetween returns the whole days elapsed from then until now,
// or Unbounded when then is the zero time.
func DaysBetween(then, now time.Time) Days {
	if then.IsZero() {
		return Unbounded
	}
	return DaysOf(int(now.Sub(then) / (24 * time.Hour)))
}

// IsUnbounded reports whether d represents "never".
func (d Days) IsUnbounded() bool {
	return !d.set
}

// Value returns the day count and whether it is bounded.
func (d Days) Value() (int, bool) {
	return d.n, d.set
}

// Capped returns min(d, limit). Unbounded always yields limit.
func (d Days) Capped(limit int) int {
	if !d.set || d.n > limit {
		return limit
	}
	return d.n
}

func (d Days) String() string {
	if !d.set {
		return "never"
	}
	return strconv.Itoa(d.n)
}

// MarshalJSON encodes Unbounded as null.
func (d Days) MarshalJSON() ([]byte, error) {
	if !d.set {
		return []byte("null"), nil
	}
	return json.Marshal(d.n)
}

// UnmarshalJSON decodes null as Unbounded.
func (d *Days) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Unbounded
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = DaysOf(n)
	return nil
}

// ReviewerStats is the per-identity activity summary derived from history and open PRs.
type ReviewerStats struct {
	LastReviewDate        time.Time `json:"last_review_date"`   // zero = never
	LastApprovalDate      time.Time `json:"last_approval_date"` // zero = never
	DaysSinceLastReview   Days      `json:"days_since_last_review"`
	DaysSinceLastApproval Days      `json:"days_since_last_approval"`
	TotalReviews          int       `json:"total_reviews"`
	TotalApprovals        int       `json:"total_approvals"`
	PendingReviews        int       `json:"pending_reviews"`
}

// ScoreResult is a scored reviewer candidate.
type ScoreResult struct {
	Factors    map[string]float64 `json:"factors"`
	Reviewer   string             `json:"reviewer"`
	Stats      ReviewerStats      `json:"stats"`
	Score      float64            `json:"score"`
	Overloaded bool               `json:"overloaded"`
}
