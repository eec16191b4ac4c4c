package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDaysBetween(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		then      time.Time
		want      int
		unbounded bool
	}{
		{"never", time.Time{}, 0, true},
		{"same instant", now, 0, false},
		{"just under a day", now.Add(-23 * time.Hour), 0, false},
		{"three and a half days", now.Add(-84 * time.Hour), 3, false},
		{"future clamps to zero", now.Add(48 * time.Hour), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DaysBetween(tt.then, now)
			if d.IsUnbounded() != tt.unbounded {
				t.Fatalf("expected unbounded=%v, got %v", tt.unbounded, d.IsUnbounded())
			}
			if n, _ := d.Value(); n != tt.want {
				t.Errorf("expected %d days, got %d", tt.want, n)
			}
		})
	}
}

func TestDays_Capped(t *testing.T) {
	if got := Unbounded.Capped(30); got != 30 {
		t.Errorf("unbounded should cap to the limit, got %d", got)
	}
	if got := DaysOf(45).Capped(30); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
	if got := DaysOf(7).Capped(30); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := DaysOf(-3).Capped(30); got != 0 {
		t.Errorf("negative days should clamp to 0, got %d", got)
	}
}

func TestDays_String(t *testing.T) {
	if Unbounded.String() != "never" {
		t.Errorf("expected never, got %s", Unbounded.String())
	}
	if DaysOf(12).String() != "12" {
		t.Errorf("expected 12, got %s", DaysOf(12).String())
	}
}

func TestDays_JSON(t *testing.T) {
	stats := ReviewerStats{DaysSinceLastReview: DaysOf(4), DaysSinceLastApproval: Unbounded}

	b, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ReviewerStats
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !got.DaysSinceLastApproval.IsUnbounded() {
		t.Errorf("expected null to decode as unbounded, got %v", got.DaysSinceLastApproval)
	}
	if n, ok := got.DaysSinceLastReview.Value(); !ok || n != 4 {
		t.Errorf("expected 4 days, got %d (bounded=%v)", n, ok)
	}
}

func TestOpenPullRequest_IsOpen(t *testing.T) {
	for state, want := range map[string]bool{"": true, "OPEN": true, "open": true, "CLOSED": false, "MERGED": false} {
		pr := OpenPullRequest{State: state}
		if pr.IsOpen() != want {
			t.Errorf("state %q: expected %v", state, want)
		}
	}
}
