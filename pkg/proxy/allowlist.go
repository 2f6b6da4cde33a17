package proxy

import (
	"path"
	"strings"
	"sync"
)

// AllowList restricts destination hosts against an ordered set of glob
// patterns ("*.example.com", "internal.test"). Matching is
// case-insensitive and ignores any port suffix. An empty list allows
// every destination.
//
// The pattern set can be swapped at runtime by the configuration
// watcher, so reads and updates are synchronized.
type AllowList struct {
	mu       sync.RWMutex
	patterns []string
}

// NewAllowList builds an allow-list from ordered glob patterns.
func NewAllowList(patterns []string) *AllowList {
	al := &AllowList{}
	al.Update(patterns)
	return al
}

// Update replaces the pattern set. Used for hot reload.
func (al *AllowList) Update(patterns []string) {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}

	al.mu.Lock()
	al.patterns = normalized
	al.mu.Unlock()
}

// Allows reports whether host may be reached. host may carry a ":port"
// suffix, which is ignored.
func (al *AllowList) Allows(host string) bool {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")

	al.mu.RLock()
	defer al.mu.RUnlock()

	if len(al.patterns) == 0 {
		return true
	}
	for _, pattern := range al.patterns {
		if ok, err := path.Match(pattern, host); err == nil && ok {
			return true
		}
	}
	return false
}
