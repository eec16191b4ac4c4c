// Package config reads and writes the per-repository .pr-reviewer.yml file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/availability"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/reviewer"
)

// FileName is the configuration file looked up in the working directory
// and in the default branch of a repository.
const FileName = ".pr-reviewer.yml"

// Limits for historyDays.
const (
	MinHistoryDays = 1
	MaxHistoryDays = 365
)

// Config mirrors the YAML file. Keys keep the camelCase names used on disk.
type Config struct {
	Unavailable       map[string]Absence `koanf:"unavailable"`
	Team              []string           `koanf:"team"`
	Excluded          []string           `koanf:"excluded"`
	Weights           Weights            `koanf:"weights"`
	HistoryDays       int                `koanf:"historyDays"`
	LookbackPRs       int                `koanf:"lookbackPRs"`
	MaxPendingReviews int                `koanf:"maxPendingReviews"`
}

// Weights scale each scoring factor.
type Weights struct {
	Recency   float64 `koanf:"recency"`
	Balance   float64 `koanf:"balance"`
	Approvals float64 `koanf:"approvals"`
	Workload  float64 `koanf:"workload"`
}

// Absence is an unavailability entry as stored on disk.
// Dates are YAML timestamps; a missing until means indefinite.
type Absence struct {
	Since time.Time `koanf:"since"`
	Until time.Time `koanf:"until,omitempty"`
}

// New returns the default configuration.
func New() *Config {
	w := reviewer.DefaultWeights
	return &Config{
		Team:              []string{},
		Excluded:          []string{"dependabot[bot]", "github-actions[bot]"},
		HistoryDays:       30,
		MaxPendingReviews: 3,
		Weights: Weights{
			Recency:   w.Recency,
			Balance:   w.Balance,
			Approvals: w.Approvals,
			Workload:  w.Workload,
		},
		Unavailable: map[string]Absence{},
	}
}

// Validate checks values the selector takes on trust.
func (c *Config) Validate() error {
	switch {
	case c.HistoryDays < MinHistoryDays || c.HistoryDays > MaxHistoryDays:
		return fmt.Errorf("%w: historyDays must be between %d and %d, got %d", ErrInvalidConfig, MinHistoryDays, MaxHistoryDays, c.HistoryDays)
	case c.MaxPendingReviews <= 0:
		return fmt.Errorf("%w: maxPendingReviews must be positive, got %d", ErrInvalidConfig, c.MaxPendingReviews)
	case c.LookbackPRs < 0:
		return fmt.Errorf("%w: lookbackPRs must not be negative, got %d", ErrInvalidConfig, c.LookbackPRs)
	}

	for name, v := range map[string]float64{
		"recency":   c.Weights.Recency,
		"balance":   c.Weights.Balance,
		"approvals": c.Weights.Approvals,
		"workload":  c.Weights.Workload,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weights.%s must not be negative, got %v", ErrInvalidConfig, name, v)
		}
	}

	for login := range c.Unavailable {
		if login == "" {
			return fmt.Errorf("%w: unavailable entry with empty login", ErrInvalidConfig)
		}
	}
	return nil
}

// Reviewer converts the file settings into the selection policy.
func (c *Config) Reviewer() reviewer.Config {
	return reviewer.Config{
		Team:              append([]string(nil), c.Team...),
		Excluded:          append([]string(nil), c.Excluded...),
		LookbackPRs:       c.LookbackPRs,
		MaxPendingReviews: c.MaxPendingReviews,
		Weights: reviewer.Weights{
			Recency:   c.Weights.Recency,
			Balance:   c.Weights.Balance,
			Approvals: c.Weights.Approvals,
			Workload:  c.Weights.Workload,
		},
	}
}

// Availability builds a store from the unavailable section.
func (c *Config) Availability() *availability.Store {
	store := availability.NewStore()
	for login, a := range c.Unavailable {
		store.Restore(login, availability.Absence{Since: a.Since, Until: a.Until})
	}
	slog.Debug("Loaded availability", "entries", len(c.Unavailable), "active", len(store.Active()))
	return store
}

// SetAvailability replaces the unavailable section with the store's
// unexpired entries.
func (c *Config) SetAvailability(store *availability.Store) {
	c.Unavailable = make(map[string]Absence)
	for _, e := range store.Active() {
		c.Unavailable[e.Login] = Absence{
			Since: e.Since.UTC().Truncate(time.Second),
			Until: e.Until.UTC().Truncate(time.Second),
		}
	}
}

// ParseDate accepts an RFC 3339 timestamp or a YYYY-MM-DD date, which is
// read as local midnight.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t, nil
}
