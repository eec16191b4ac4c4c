package reviewer

import (
	"strings"
	"time"
)

// Weights scale each scoring factor. All weights are expected to be non-negative.
type Weights struct {
	Recency   float64
	Balance   float64
	Approvals float64
	Workload  float64
}

// DefaultWeights favors reviewers who have not approved anything recently.
var DefaultWeights = Weights{ //nolint:gochecknoglobals // default policy, copied by value
	Recency:   1,
	Balance:   2,
	Approvals: 3,
	Workload:  1,
}

// Config holds the selection policy.
type Config struct {
	Team              []string // configured team; empty means "everyone seen in history"
	Excluded          []string
	Weights           Weights
	MaxPendingReviews int
	LookbackPRs       int // most recent closed PRs to consider; 0 = all supplied
}

// BotFunc reports whether an identity belongs to an automation account.
type BotFunc func(login string) bool

// AvailabilityFunc reports whether an identity is currently unavailable.
type AvailabilityFunc func(login string) bool

// Selector aggregates review statistics and ranks reviewers.
// It is read-only after construction and safe for concurrent use.
type Selector struct {
	isBot       BotFunc
	unavailable AvailabilityFunc
	now         func() time.Time
	excluded    map[string]bool
	cfg         Config
}

// Option configures a Selector.
type Option func(*Selector)

// WithBotFunc replaces the default bot predicate.
func WithBotFunc(fn BotFunc) Option {
	return func(s *Selector) {
		if fn != nil {
			s.isBot = fn
		}
	}
}

// WithAvailability sets the predicate used to skip unavailable reviewers.
func WithAvailability(fn AvailabilityFunc) Option {
	return func(s *Selector) {
		if fn != nil {
			s.unavailable = fn
		}
	}
}

// WithClock overrides the time source used for day calculations.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Selector for the given configuration.
func New(cfg Config, opts ...Option) *Selector {
	s := &Selector{
		cfg:         cfg,
		isBot:       IsBot,
		unavailable: func(string) bool { return false },
		now:         time.Now,
		excluded:    make(map[string]bool, len(cfg.Excluded)),
	}
	for _, login := range cfg.Excluded {
		s.excluded[login] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the selection policy.
func (s *Selector) Config() Config {
	return s.cfg
}

// IsBot is the default bot predicate: GitHub suffixes app accounts with "[bot]".
func IsBot(login string) bool {
	return strings.HasSuffix(strings.ToLower(login), "[bot]")
}

// skip reports whether an identity should never be tracked.
func (s *Selector) skip(login string) bool {
	return login == "" || s.isBot(login)
}
