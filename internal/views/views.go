// Package views decodes cached domain values into typed structures.
package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v67/github"

	"goflare.io/cinder/internal/fetch"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/pkg/value"
)

// ErrNoView is returned when a domain has no typed view.
var ErrNoView = errors.New("no typed view for domain")

// Rendered is a WordPress field carrying rendered HTML.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// BlogPost is a WordPress post as cached for the blog domain.
type BlogPost struct {
	ID         int64    `json:"id"`
	Slug       string   `json:"slug"`
	Link       string   `json:"link"`
	Date       string   `json:"date"`
	Modified   string   `json:"modified"`
	Title      Rendered `json:"title"`
	Excerpt    Rendered `json:"excerpt"`
	Categories []int64  `json:"categories,omitempty"`
	Tags       []int64  `json:"tags,omitempty"`
}

// ServiceStatus is the last check of one monitored service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Status is the value cached for the status domain.
type Status struct {
	Overall   string          `json:"overall"`
	Services  []ServiceStatus `json:"services"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Repositories decodes a cached repositories value.
func Repositories(v value.Value) ([]*github.Repository, error) {
	return decode[[]*github.Repository](v, "repositories")
}

// BlogPosts decodes a cached blog value.
func BlogPosts(v value.Value) ([]BlogPost, error) {
	return decode[[]BlogPost](v, "blog posts")
}

// StatusOf decodes a cached status value.
func StatusOf(v value.Value) (Status, error) {
	return decode[Status](v, "status")
}

// Decode decodes v with the view of the named domain.
func Decode(domain string, v value.Value) (any, error) {
	switch domain {
	case registry.Repositories:
		return Repositories(v)
	case registry.Blog:
		return BlogPosts(v)
	case registry.Status:
		return StatusOf(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoView, domain)
	}
}

// Has reports whether the named domain has a typed view.
func Has(domain string) bool {
	switch domain {
	case registry.Repositories, registry.Blog, registry.Status:
		return true
	}
	return false
}

func decode[T any](v value.Value, what string) (T, error) {
	var out T
	if v.IsNull() {
		return out, nil
	}
	if err := v.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return out, nil
}

// GitHubRepositories returns a fetcher listing every public repository of
// user, most recently updated first.
func GitHubRepositories(client *github.Client, user string) fetch.Fetcher {
	return func(ctx context.Context) (any, error) {
		opts := &github.RepositoryListByUserOptions{
			Sort:        "updated",
			ListOptions: github.ListOptions{PerPage: 100},
		}

		var all []*github.Repository
		for {
			repos, resp, err := client.Repositories.ListByUser(ctx, user, opts)
			if err != nil {
				return nil, fmt.Errorf("failed to list repositories of %s: %w", user, err)
			}
			all = append(all, repos...)
			if resp.NextPage == 0 {
				return all, nil
			}
			opts.Page = resp.NextPage
		}
	}
}
