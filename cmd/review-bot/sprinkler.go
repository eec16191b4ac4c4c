package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
)

const (
	eventChannelSize     = 100
	eventDedupWindow     = 5 * time.Second
	eventMapMaxSize      = 1000
	eventMapCleanupAge   = time.Hour
	eventMaxRetries      = 3
	eventMaxDelay        = 10 * time.Second
	healthCheckInterval  = 2 * time.Minute
	maxReconnectAttempts = 100
	reconnectBackoff     = 30 * time.Second
	maxReconnectBackoff  = 5 * time.Minute
)

// sprinklerMonitor subscribes to pull request events for one organization
// and runs an election for each pull request that changes.
type sprinklerMonitor struct {
	lastConnectedAt   time.Time
	lastEventAt       time.Time
	bot               *Bot
	client            *client.Client
	events            chan string          // pull request URLs waiting to be processed
	lastSeen          map[string]time.Time // per URL, for deduplication
	done              chan struct{}
	org               string
	reconnectAttempts int
	mu                sync.RWMutex
	running           bool
	connected         bool
}

func newSprinklerMonitor(bot *Bot, org string) *sprinklerMonitor {
	return &sprinklerMonitor{
		bot:      bot,
		org:      org,
		events:   make(chan string, eventChannelSize),
		lastSeen: make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

func (sm *sprinklerMonitor) start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.running {
		return nil
	}
	select {
	case <-sm.done:
		return fmt.Errorf("monitor for %s was stopped", sm.org)
	default:
	}
	sm.running = true

	go sm.processEvents(ctx)
	go sm.manageConnection(ctx)
	go sm.monitorHealth(ctx)
	slog.Info("Event monitor started", "component", "sprinkler", "org", sm.org)
	return nil
}

// manageConnection restarts the websocket client whenever it gives up.
// The client reconnects on its own; this only handles fatal exits.
func (sm *sprinklerMonitor) manageConnection(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection manager panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		select {
		case <-sm.done:
			return
		default:
		}
		err := sm.connect(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}

		wait := 5 * time.Second
		sm.mu.Lock()
		if err == nil {
			sm.reconnectAttempts = 0
		} else {
			sm.reconnectAttempts++
			wait = min(reconnectBackoff*time.Duration(sm.reconnectAttempts), maxReconnectBackoff)
		}
		attempts := sm.reconnectAttempts
		sm.mu.Unlock()

		if attempts >= maxReconnectAttempts {
			slog.Error("Giving up on event stream", "component", "sprinkler", "org", sm.org, "attempts", attempts)
			return
		}
		if err != nil {
			slog.Warn("Event stream failed, restarting after backoff", "component", "sprinkler",
				"org", sm.org, "attempt", attempts, "backoff", wait, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-sm.done:
			return
		case <-time.After(wait):
		}
	}
}

// connect runs one websocket client until it exits.
func (sm *sprinklerMonitor) connect(ctx context.Context) error {
	gh := sm.bot.clientFor(sm.org)
	ws, err := client.New(client.Config{
		ServerURL:    "wss://" + client.DefaultServerAddress + "/ws",
		Organization: sm.org,
		TokenProvider: func() (string, error) {
			token, err := gh.Token(ctx)
			if err != nil {
				return "", fmt.Errorf("installation token for %s: %w", sm.org, err)
			}
			return token, nil
		},
		EventTypes: []string{"pull_request"},
		OnConnect: func() {
			sm.mu.Lock()
			sm.connected = true
			sm.lastConnectedAt = time.Now()
			sm.mu.Unlock()
			slog.Info("Event stream connected", "component", "sprinkler", "org", sm.org)
		},
		OnDisconnect: func(err error) {
			sm.mu.Lock()
			was := sm.connected
			sm.connected = false
			sm.mu.Unlock()
			if was && err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Event stream disconnected", "component", "sprinkler", "org", sm.org, "error", err)
			}
		},
		OnEvent: sm.handleEvent,
	})
	if err != nil {
		return fmt.Errorf("create sprinkler client: %w", err)
	}

	sm.mu.Lock()
	sm.client = ws
	sm.mu.Unlock()

	started := time.Now()
	if err := ws.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event stream stopped after %s: %w", time.Since(started).Round(time.Second), err)
	}
	return nil
}

func (sm *sprinklerMonitor) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.done:
			return
		case <-ticker.C:
			sm.mu.RLock()
			connected, since, last := sm.connected, sm.lastConnectedAt, sm.lastEventAt
			sm.mu.RUnlock()

			switch {
			case connected:
				slog.Debug("Event stream healthy", "component", "sprinkler", "org", sm.org,
					"connected_for", time.Since(since).Round(time.Second), "last_event", last)
			case since.IsZero():
				slog.Info("Event stream not yet connected", "component", "sprinkler", "org", sm.org)
			default:
				slog.Warn("Event stream disconnected", "component", "sprinkler", "org", sm.org,
					"disconnected_for", time.Since(since).Round(time.Second))
			}
		}
	}
}

// handleEvent queues pull request URLs for processing, dropping repeats
// inside eventDedupWindow.
func (sm *sprinklerMonitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" || event.URL == "" {
		return
	}
	owner, _, _, err := github.ParsePRURL(event.URL)
	if err != nil {
		slog.Warn("Ignoring event with unexpected URL", "component", "sprinkler", "url", event.URL, "error", err)
		return
	}
	if owner != sm.org {
		slog.Debug("Ignoring event for another organization", "component", "sprinkler", "event_org", owner, "org", sm.org)
		return
	}

	now := time.Now()
	sm.mu.Lock()
	if seen, ok := sm.lastSeen[event.URL]; ok && now.Sub(seen) < eventDedupWindow {
		sm.mu.Unlock()
		return
	}
	sm.lastSeen[event.URL] = now
	sm.lastEventAt = now
	if len(sm.lastSeen) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, at := range sm.lastSeen {
			if at.Before(cutoff) {
				delete(sm.lastSeen, url)
			}
		}
	}
	sm.mu.Unlock()

	sm.bot.metrics.Event("sprinkler")
	select {
	case sm.events <- event.URL:
	default:
		slog.Warn("Event queue full, dropping event", "component", "sprinkler", "url", event.URL)
	}
}

func (sm *sprinklerMonitor) processEvents(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event processor panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.done:
			return
		case url := <-sm.events:
			sm.processEvent(ctx, url)
		}
	}
}

// processEvent runs an election for the pull request at url, retrying
// transient failures.
func (sm *sprinklerMonitor) processEvent(ctx context.Context, url string) {
	owner, repo, number, err := github.ParsePRURL(url)
	if err != nil {
		slog.Warn("Failed to parse PR URL", "component", "sprinkler", "url", url, "error", err)
		return
	}
	start := time.Now()

	err = retry.Do(func() error {
		return sm.bot.processSinglePR(ctx, owner, repo, number)
	},
		retry.Attempts(eventMaxRetries),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(eventMaxDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retrying PR event", "component", "sprinkler", "attempt", n+1,
				"owner", owner, "repo", repo, "pr", number, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		slog.Error("Failed to process PR event", "component", "sprinkler", "owner", owner, "repo", repo,
			"pr", number, "elapsed", time.Since(start).Round(time.Millisecond), "error", err)
		return
	}
	slog.Info("Processed PR event", "component", "sprinkler", "owner", owner, "repo", repo,
		"pr", number, "elapsed", time.Since(start).Round(time.Millisecond))
}

func (sm *sprinklerMonitor) stop() {
	sm.mu.Lock()
	if !sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = false
	ws := sm.client
	close(sm.done)
	sm.mu.Unlock()

	if ws != nil {
		ws.Stop()
	}
	slog.Info("Event monitor stopped", "component", "sprinkler", "org", sm.org)
}

func (sm *sprinklerMonitor) healthStatus() map[string]any {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := map[string]any{
		"org":                sm.org,
		"running":            sm.running,
		"connected":          sm.connected,
		"reconnect_attempts": sm.reconnectAttempts,
		"queued_events":      len(sm.events),
	}
	if !sm.lastConnectedAt.IsZero() {
		status["last_connected_at"] = sm.lastConnectedAt
	}
	if !sm.lastEventAt.IsZero() {
		status["last_event_at"] = sm.lastEventAt
	}
	return status
}
