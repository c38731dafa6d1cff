// Package registry maps logical data domains to their cache policy.
package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Domain names.
const (
	Status       = "status"
	Blog         = "blog"
	Repositories = "repositories"
	Summaries    = "summaries"
	Metadata     = "metadata"
)

var (
	// ErrUnknownDomain is returned when a domain name is not registered.
	ErrUnknownDomain = errors.New("unknown cache domain")
	// ErrOrdering is returned when domain max ages are not strictly increasing.
	ErrOrdering = errors.New("domain max ages are not strictly increasing")
	// ErrInvalidDomain is returned for a domain with missing fields or a duplicate name or key.
	ErrInvalidDomain = errors.New("invalid cache domain")
)

// DomainConfig is the policy applied to every write of a domain.
type DomainConfig struct {
	MaxAge  time.Duration `json:"maxAge" yaml:"maxAge"`
	Source  string        `json:"source" yaml:"source"`
	Version string        `json:"version" yaml:"version"`
}

// Domain binds a name and its cache key to a policy.
type Domain struct {
	Name         string `json:"name" yaml:"name"`
	Key          string `json:"key" yaml:"key"`
	DomainConfig `yaml:",inline"`
}

// Registry is an ordered, immutable set of domains.
type Registry struct {
	domains []Domain
	byName  map[string]int
	byKey   map[string]int
}

// Defaults returns the built-in domains, freshest first.
func Defaults() []Domain {
	return []Domain{
		{Name: Status, Key: "status-data", DomainConfig: DomainConfig{MaxAge: 5 * time.Minute, Source: "status", Version: "1.0"}},
		{Name: Blog, Key: "wordpress-posts", DomainConfig: DomainConfig{MaxAge: 30 * time.Minute, Source: "wordpress", Version: "1.0"}},
		{Name: Repositories, Key: "github-repos", DomainConfig: DomainConfig{MaxAge: time.Hour, Source: "github", Version: "1.0"}},
		{Name: Summaries, Key: "ai-summaries", DomainConfig: DomainConfig{MaxAge: 6 * time.Hour, Source: "ai", Version: "1.0"}},
		{Name: Metadata, Key: "site-metadata", DomainConfig: DomainConfig{MaxAge: 24 * time.Hour, Source: "metadata", Version: "1.0"}},
	}
}

// Default returns a registry holding Defaults.
func Default() *Registry {
	r, err := New(Defaults()...)
	if err != nil {
		panic(err)
	}
	return r
}

// New builds a registry from domains in declaration order.
func New(domains ...Domain) (*Registry, error) {
	r := &Registry{
		domains: make([]Domain, 0, len(domains)),
		byName:  make(map[string]int, len(domains)),
		byKey:   make(map[string]int, len(domains)),
	}
	for _, d := range domains {
		switch {
		case d.Name == "" || d.Key == "":
			return nil, fmt.Errorf("%w: name and key are required", ErrInvalidDomain)
		case d.MaxAge <= 0:
			return nil, fmt.Errorf("%w: %s has non-positive maxAge", ErrInvalidDomain, d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidDomain, d.Name)
		}
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidDomain, d.Key)
		}
		r.byName[d.Name] = len(r.domains)
		r.byKey[d.Key] = len(r.domains)
		r.domains = append(r.domains, d)
	}
	return r, nil
}

// Lookup returns the domain registered under name.
func (r *Registry) Lookup(name string) (Domain, error) {
	i, ok := r.byName[name]
	if !ok {
		return Domain{}, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return r.domains[i], nil
}

// ByKey returns the domain stored under a cache key.
func (r *Registry) ByKey(key string) (Domain, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Domain{}, false
	}
	return r.domains[i], true
}

// BySource returns every domain fed by source.
func (r *Registry) BySource(source string) []Domain {
	var out []Domain
	for _, d := range r.domains {
		if d.Source == source {
			out = append(out, d)
		}
	}
	return out
}

// Domains returns all domains in declaration order.
func (r *Registry) Domains() []Domain {
	out := make([]Domain, len(r.domains))
	copy(out, r.domains)
	return out
}

// ValidateOrdering checks that the named domains have strictly increasing
// max ages in the order given. With no names, the declaration order is checked.
func (r *Registry) ValidateOrdering(names ...string) error {
	seq := r.domains
	if len(names) > 0 {
		seq = make([]Domain, 0, len(names))
		for _, n := range names {
			d, err := r.Lookup(n)
			if err != nil {
				return err
			}
			seq = append(seq, d)
		}
	}

	for i := 1; i < len(seq); i++ {
		if seq[i].MaxAge <= seq[i-1].MaxAge {
			return fmt.Errorf("%w: %s (%s) must outlive %s (%s)",
				ErrOrdering, seq[i].Name, seq[i].MaxAge, seq[i-1].Name, seq[i-1].MaxAge)
		}
	}
	return nil
}

// CheckFreshnessOrder verifies status < blog < repositories < metadata.
func (r *Registry) CheckFreshnessOrder() error {
	return r.ValidateOrdering(Status, Blog, Repositories, Metadata)
}

type file struct {
	Domains []Domain `yaml:"domains"`
}

// LoadFile reads a YAML registry and checks its declaration order.
//
//	domains:
//	  - name: status
//	    key: status-data
//	    maxAge: 5m
//	    source: status
//	    version: "1.0"
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	r, err := New(f.Domains...)
	if err != nil {
		return nil, err
	}
	if err := r.ValidateOrdering(); err != nil {
		return nil, err
	}
	return r, nil
}
