package routing

import (
	"sort"
	"strings"

	"stratos-hq/charon/pkg/proxy"
)

// Table maps URL path prefixes to target group names. The longest
// matching prefix wins, so "/api/users" resolves to the "/api" entry even
// when "/" is also configured. The table is immutable after construction;
// handlers share one instance.
type Table struct {
	// prefixes sorted by descending length so the first match is the
	// longest one.
	prefixes     []string
	groups       map[string]string
	defaultGroup string
}

// NewTable builds a routing table from prefix -> group entries and an
// optional default group for unmatched paths. An empty defaultGroup makes
// unmatched paths fail with ErrNoRoute.
func NewTable(routes map[string]string, defaultGroup string) *Table {
	prefixes := make([]string, 0, len(routes))
	groups := make(map[string]string, len(routes))
	for prefix, group := range routes {
		prefixes = append(prefixes, prefix)
		groups[prefix] = group
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &Table{
		prefixes:     prefixes,
		groups:       groups,
		defaultGroup: defaultGroup,
	}
}

// Route resolves a request path to a target group name. Exactly one group
// resolves per path; ties between equal-length prefixes cannot occur
// because prefixes are unique.
func (t *Table) Route(path string) (string, error) {
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(path, prefix) {
			return t.groups[prefix], nil
		}
	}
	if t.defaultGroup != "" {
		return t.defaultGroup, nil
	}
	return "", proxy.ErrNoRoute
}
