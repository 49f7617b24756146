// Package github reads reference documents from a GitHub repository directory.
package github

import (
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// NewClient creates a new GitHub client with optional authentication and rate limiting.
// A non-empty token (GITHUB_TOKEN in the process config) authenticates the client.
// Rate limiting is automatically handled by waiting until the limit resets.
func NewClient(token string) (*Client, error) {
	// Create rate limit handler with default configuration
	// This handles both primary rate limits (5000 req/hour authenticated, 60 unauthenticated)
	// and secondary rate limits (abuse detection) with automatic retry
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	// Create GitHub client with rate limiting
	ghClient := github.NewClient(rateLimiter)

	// Use the authenticated client for higher rate limits when a token is set
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}
