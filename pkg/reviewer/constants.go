// Package reviewer ranks team members as pull request reviewers by recency,
// approval balance and current workload.
package reviewer

// Scoring constants.
const (
	recencyCapDays     = 30   // days beyond which inactivity no longer raises a score
	workloadMultiplier = 10   // per pending review, scaled by the workload weight
	overloadPenalty    = 1000 // flat cliff once pending reviews reach the maximum
	topCandidatesToLog = 5    // number of top candidates to log at debug level
)

// Factor names used in ScoreResult.Factors.
const (
	FactorApprovalRecency = "approval_recency"
	FactorReviewRecency   = "review_recency"
	FactorBalance         = "balance"
	FactorWorkload        = "workload"
	FactorOverload        = "overload"
)

// Factors lists the factor names in display order.
var Factors = []string{ //nolint:gochecknoglobals // read-only display order
	FactorApprovalRecency,
	FactorReviewRecency,
	FactorBalance,
	FactorWorkload,
	FactorOverload,
}
