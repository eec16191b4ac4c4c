package reviewer

import (
	"testing"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// fourPersonHistory: bob approved two of the last three PRs, alice one.
func fourPersonHistory() ([]types.PullRequest, []types.OpenPullRequest) {
	history := []types.PullRequest{
		testutil.ClosedPR(101, "eve", daysAgo(1)).Approve("bob", daysAgo(1)).Build(),
		testutil.ClosedPR(102, "eve", daysAgo(2)).Approve("alice", daysAgo(2)).Build(),
		testutil.ClosedPR(103, "eve", daysAgo(3)).Approve("bob", daysAgo(3)).Build(),
	}
	open := []types.OpenPullRequest{testutil.OpenPR(104, "eve", "bob")}
	return history, open
}

func TestElect_PrefersReviewersWithoutRecentApprovals(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob", "charlie", "david"}})
	history, open := fourPersonHistory()
	table := s.Aggregate(history, open)

	got, ok := s.Elect("eve", table)

	if !ok {
		t.Fatal("expected a reviewer")
	}
	if got.Reviewer != "charlie" && got.Reviewer != "david" {
		t.Errorf("expected charlie or david, got %s (score %v)", got.Reviewer, got.Score)
	}
	if got.Score != 121.5 {
		t.Errorf("expected score 121.5, got %v", got.Score)
	}
}

func TestQueue_FullRanking(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob", "charlie", "david"}})
	history, open := fourPersonHistory()
	table := s.Aggregate(history, open)

	ranked, ok := s.Queue("eve", 0, table)

	if !ok || len(ranked) != 4 {
		t.Fatalf("expected 4 ranked reviewers, got %d (ok=%v)", len(ranked), ok)
	}
	// Ties keep team order.
	want := []string{"charlie", "david", "alice", "bob"}
	for i, r := range ranked {
		if r.Reviewer != want[i] {
			t.Errorf("rank %d: expected %s, got %s", i+1, want[i], r.Reviewer)
		}
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Errorf("ranking not descending at %d: %v > %v", i, ranked[i].Score, ranked[i-1].Score)
		}
	}
	if ranked[3].Stats.PendingReviews != 1 {
		t.Errorf("bob should carry the pending review, got %d", ranked[3].Stats.PendingReviews)
	}
}

func TestQueue_Truncates(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob", "charlie", "david"}})
	history, open := fourPersonHistory()
	table := s.Aggregate(history, open)

	ranked, ok := s.Queue("eve", 2, table)

	if !ok || len(ranked) != 2 {
		t.Fatalf("expected 2 reviewers, got %d", len(ranked))
	}
	first, _ := s.Elect("eve", table)
	if ranked[0].Reviewer != first.Reviewer {
		t.Errorf("queue head %s differs from elected %s", ranked[0].Reviewer, first.Reviewer)
	}
}

func TestElect_OverloadedReviewerIsNotTop(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob", "charlie", "david"}, MaxPendingReviews: 3})
	history, _ := fourPersonHistory()
	var open []types.OpenPullRequest
	for n := range 4 {
		open = append(open, types.OpenPullRequest{Number: 200 + n, ReviewRequests: []string{"charlie"}})
	}
	table := s.Aggregate(history, open)

	ranked, ok := s.Queue("eve", 0, table)

	if !ok {
		t.Fatal("expected reviewers")
	}
	if ranked[0].Reviewer == "charlie" {
		t.Fatal("overloaded reviewer must not be ranked first")
	}
	last := ranked[len(ranked)-1]
	if last.Reviewer != "charlie" || !last.Overloaded {
		t.Errorf("expected overloaded charlie last, got %s (overloaded=%v)", last.Reviewer, last.Overloaded)
	}
	if last.Factors[FactorOverload] != -overloadPenalty {
		t.Errorf("expected overload penalty, got %v", last.Factors[FactorOverload])
	}
}

func TestElect_EmptyTeamAndHistory(t *testing.T) {
	s := newTestSelector(Config{})

	table := s.Aggregate(nil, nil)
	_, ok := s.Elect("eve", table)
	ranked, queueOK := s.Queue("eve", 3, table)

	if ok || queueOK {
		t.Error("expected no eligible reviewers")
	}
	if ranked != nil {
		t.Errorf("expected nil ranking, got %v", ranked)
	}
}

func TestElect_NeverReturnsAuthor(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob"}})
	table := s.Aggregate(nil, nil)

	for _, author := range []string{"alice", "bob"} {
		ranked, ok := s.Queue(author, 0, table)
		if !ok {
			t.Fatalf("expected a reviewer for %s", author)
		}
		for _, r := range ranked {
			if r.Reviewer == author {
				t.Errorf("author %s was returned as a reviewer", author)
			}
		}
	}
}

func TestElect_AuthorIsOnlyCandidate(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice"}})

	_, ok := s.Elect("alice", s.Aggregate(nil, nil))

	if ok {
		t.Error("expected no reviewer when the author is the whole team")
	}
}

func TestElect_Idempotent(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob", "charlie", "david"}})
	history, open := fourPersonHistory()
	table := s.Aggregate(history, open)

	first, _ := s.Queue("eve", 0, table)
	second, _ := s.Queue("eve", 0, s.Aggregate(history, open))

	for i := range first {
		if first[i].Reviewer != second[i].Reviewer || first[i].Score != second[i].Score {
			t.Errorf("rank %d differs: %s/%v vs %s/%v", i, first[i].Reviewer, first[i].Score,
				second[i].Reviewer, second[i].Score)
		}
	}
}

func TestEligible_Filters(t *testing.T) {
	unavailable := map[string]bool{"carol": true}
	s := newTestSelector(Config{
		Team:     []string{"alice", "bob", "bob", "carol", "dave", "ci[bot]", "frank"},
		Excluded: []string{"frank"},
	}, WithAvailability(func(login string) bool { return unavailable[login] }))

	got := s.Eligible("alice", Table{})

	want := []string{"bob", "dave"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestEligible_NoTeamUsesTable(t *testing.T) {
	s := newTestSelector(Config{})
	table := Table{"zed": {}, "amy": {}, "eve": {}}

	got := s.Eligible("eve", table)

	if len(got) != 2 || got[0] != "amy" || got[1] != "zed" {
		t.Errorf("expected [amy zed], got %v", got)
	}
}

func TestEligible_EmptyAuthorExcludesNobody(t *testing.T) {
	s := newTestSelector(Config{Team: []string{"alice", "bob"}})

	if got := s.Eligible("", Table{}); len(got) != 2 {
		t.Errorf("expected both team members, got %v", got)
	}
}

func TestElect_RecencyFollowsClock(t *testing.T) {
	clock := testutil.NewClock(testutil.Date(2026, time.May, 4))
	s := New(Config{Team: []string{"alice", "bob"}, MaxPendingReviews: 3, Weights: DefaultWeights}, WithClock(clock.Now))
	history := []types.PullRequest{
		testutil.ClosedPR(1, "eve", clock.Now()).Approve("alice", clock.Now()).Build(),
		testutil.ClosedPR(2, "eve", clock.Now().AddDate(0, 0, -10)).Approve("bob", clock.Now().AddDate(0, 0, -10)).Build(),
	}

	first, _ := s.Elect("eve", s.Aggregate(history, nil))
	clock.Advance(60 * 24 * time.Hour)
	later, _ := s.Elect("eve", s.Aggregate(history, nil))

	if first.Reviewer != "bob" {
		t.Errorf("expected bob while alice's approval is fresh, got %s", first.Reviewer)
	}
	// Both recencies hit the cap, so the tie keeps team order.
	if later.Reviewer != "alice" || later.Stats.DaysSinceLastApproval.Capped(30) != 30 {
		t.Errorf("expected alice once both approvals are stale, got %s", later.Reviewer)
	}
}
