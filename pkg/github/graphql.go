package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	maxQuerySize        = 100000
	maxGraphQLVarLength = 10000
	maxGraphQLVarNum    = 1000000
	maxGitHubNameLength = 100
)

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// query runs a GraphQL query and decodes its data field into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := validateGraphQLVariables(variables); err != nil {
		return fmt.Errorf("invalid GraphQL variables: %w", err)
	}
	if len(query) > maxQuerySize {
		return fmt.Errorf("GraphQL query too large: %d chars (max %d)", len(query), maxQuerySize)
	}

	name := operationName(query)
	start := time.Now()
	slog.DebugContext(ctx, "Executing GraphQL query", "component", "graphql", "operation", name, "variables", len(variables))

	resp, err := c.doRequest(ctx, http.MethodPost, c.url("/graphql"), map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("graphql %s: %w", name, err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql %s: %w", name, newAPIError(resp))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("graphql %s: failed to decode response: %w", name, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		notFound := false
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
			notFound = notFound || e.Type == "NOT_FOUND"
		}
		slog.WarnContext(ctx, "GraphQL query returned errors", "component", "graphql", "operation", name, "errors", msgs)
		if notFound {
			return fmt.Errorf("graphql %s: %w: %s", name, ErrNotFound, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("graphql %s: %s", name, strings.Join(msgs, "; "))
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("graphql %s: empty data", name)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("graphql %s: failed to decode data: %w", name, err)
	}

	slog.DebugContext(ctx, "GraphQL query completed", "component", "graphql", "operation", name, "duration", time.Since(start))
	return nil
}

// validateGraphQLVariables validates GraphQL variables to prevent injection.
func validateGraphQLVariables(variables map[string]any) error {
	for key, value := range variables {
		if strings.ContainsAny(key, "{}[]\"'\n\r\t") {
			return fmt.Errorf("invalid character in variable key: %s", key)
		}

		switch v := value.(type) {
		case string:
			if strings.Contains(v, "__schema") || strings.Contains(v, "__type") {
				return errors.New("introspection queries not allowed in variables")
			}
			if len(v) > maxGraphQLVarLength {
				return fmt.Errorf("variable value too long: %d chars", len(v))
			}
			if key == "owner" || key == "repo" || key == "login" {
				if v == "" || len(v) > maxGitHubNameLength || strings.ContainsAny(v, "/\\\n\r\x00") || strings.Contains(v, "..") {
					return fmt.Errorf("invalid GitHub name in variable %s: %q", key, v)
				}
			}
		case int:
			if v < 0 || v > maxGraphQLVarNum {
				return fmt.Errorf("numeric variable out of range: %d", v)
			}
		}
	}
	return nil
}

// operationName returns the name of a named GraphQL operation, for logs.
func operationName(query string) string {
	q := strings.TrimSpace(query)
	for _, kw := range []string{"query ", "mutation "} {
		if !strings.HasPrefix(q, kw) {
			continue
		}
		rest := strings.TrimSpace(q[len(kw):])
		if end := strings.IndexAny(rest, "({ \n"); end > 0 {
			return rest[:end]
		}
		return "anonymous"
	}
	return "anonymous"
}

// actor is a GraphQL Actor (User, Bot, Mannequin, ...).
type actor struct {
	Login    string `json:"login"`
	TypeName string `json:"__typename"`
}

// requestedReviewer is a GraphQL RequestedReviewer union (User, Bot, Team, Mannequin).
type requestedReviewer struct {
	TypeName string `json:"__typename"`
	Login    string `json:"login"`
	Slug     string `json:"slug"`
}

type reviewRequestNodes struct {
	Nodes []struct {
		RequestedReviewer *requestedReviewer `json:"requestedReviewer"`
	} `json:"nodes"`
}

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// login normalizes an actor to the REST form: apps get the "[bot]" suffix.
// Deleted accounts come back as nil and yield "".
func (c *Client) login(a *actor) string {
	if a == nil || a.Login == "" {
		return ""
	}
	login := a.Login
	if a.TypeName == "Bot" && !strings.HasSuffix(login, "[bot]") {
		login += "[bot]"
	}
	c.accounts.remember(login, a.TypeName)
	return login
}

// requested returns the identities a pull request still waits on. Team
// requests are skipped: only individual identities can be scored.
func (c *Client) requested(rr reviewRequestNodes) []string {
	var logins []string
	for _, n := range rr.Nodes {
		r := n.RequestedReviewer
		if r == nil {
			continue
		}
		if r.TypeName == "Team" {
			slog.Debug("Skipping team review request", "component", "graphql", "team", r.Slug)
			continue
		}
		if login := c.login(&actor{Login: r.Login, TypeName: r.TypeName}); login != "" {
			logins = append(logins, login)
		}
	}
	return logins
}
