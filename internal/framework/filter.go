package framework

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-version"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/moolen/depman/internal/dm"
)

// DefaultConstraintCacheSize bounds the number of parsed version ranges
// kept by a Matcher.
const DefaultConstraintCacheSize = 256

// MatcherStats reports constraint cache usage.
type MatcherStats struct {
	Items   int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Matcher decides whether service properties satisfy a dm.ServiceFilter.
// Version ranges are parsed once and kept in an LRU cache since every
// tracker re-evaluates them on each registry change.
type Matcher struct {
	cache  *lru.Cache[string, version.Constraints]
	hits   uint64
	misses uint64
}

// NewMatcher creates a matcher caching up to size parsed version ranges.
func NewMatcher(size int) (*Matcher, error) {
	if size <= 0 {
		size = DefaultConstraintCacheSize
	}
	cache, err := lru.New[string, version.Constraints](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create constraint cache: %w", err)
	}
	return &Matcher{cache: cache}, nil
}

// Matches reports whether props satisfy filter:
//   - objectClass equals the filter name, when a name is set
//   - every filter property is present with the same value ("*" only
//     requires presence)
//   - service.version lies within the filter's version range, when set
func (m *Matcher) Matches(filter dm.ServiceFilter, props dm.Properties) bool {
	if filter.Name != "" && props.Get(dm.PropObjectClass) != filter.Name {
		return false
	}
	for key, want := range filter.Properties {
		got, ok := props[key]
		if !ok {
			return false
		}
		if want != "*" && got != want {
			return false
		}
	}
	if filter.VersionRange == "" {
		return true
	}

	constraints, err := m.constraints(filter.VersionRange)
	if err != nil {
		return false
	}
	raw, ok := props[dm.PropServiceVersion]
	if !ok {
		return false
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return false
	}
	return constraints.Check(v)
}

func (m *Matcher) constraints(r string) (version.Constraints, error) {
	if c, ok := m.cache.Get(r); ok {
		atomic.AddUint64(&m.hits, 1)
		return c, nil
	}
	atomic.AddUint64(&m.misses, 1)

	c, err := version.NewConstraint(r)
	if err != nil {
		return nil, fmt.Errorf("invalid version range %q: %w", r, err)
	}
	m.cache.Add(r, c)
	return c, nil
}

// Stats returns the constraint cache statistics.
func (m *Matcher) Stats() MatcherStats {
	hits := atomic.LoadUint64(&m.hits)
	misses := atomic.LoadUint64(&m.misses)
	stats := MatcherStats{
		Items:  m.cache.Len(),
		Hits:   hits,
		Misses: misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
