package routing

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"stratos-hq/charon/pkg/proxy"
)

// Target is one backend in a weighted group. Health state is the only
// mutable field: connect failures degrade the target for a cool-down
// interval, after which it becomes eligible again without intervention.
type Target struct {
	// Name is the group this target belongs to.
	Name string

	// Host and Port locate the backend.
	Host string
	Port int

	// UseTLS applies TLS on the upstream leg to this target.
	UseTLS bool

	// Weight is the target's relative traffic share within its group.
	Weight int

	// unhealthyUntil holds a unix-nano timestamp before which the target
	// is excluded from selection. Zero means healthy.
	unhealthyUntil atomic.Int64
}

// Addr returns the dialable "host:port" address.
func (t *Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Healthy reports whether the target is currently eligible for selection.
func (t *Target) Healthy() bool {
	return time.Now().UnixNano() >= t.unhealthyUntil.Load()
}

// group holds a target set and its round-robin cursor. The cursor
// advances by one per selection; the position scaled against the total
// healthy weight picks the target, so over many calls each target's share
// converges on weight/totalWeight.
type group struct {
	targets []*Target
	cursor  atomic.Uint64
}

// Pool is the health-aware weighted target selector shared by all
// reverse-proxy connections. Selection and health updates are safe for
// concurrent use; each group keeps its own cursor so groups do not
// contend with each other.
type Pool struct {
	groups   map[string]*group
	cooldown time.Duration
}

// NewPool builds a pool from the static target list. Targets sharing a
// name form one weighted group. cooldown is how long a target stays
// excluded after MarkUnhealthy.
func NewPool(targets []*Target, cooldown time.Duration) (*Pool, error) {
	groups := make(map[string]*group)
	for _, t := range targets {
		if t.Weight < 1 {
			return nil, fmt.Errorf("target %s/%s has non-positive weight %d", t.Name, t.Addr(), t.Weight)
		}
		g := groups[t.Name]
		if g == nil {
			g = &group{}
			groups[t.Name] = g
		}
		g.targets = append(g.targets, t)
	}

	return &Pool{
		groups:   groups,
		cooldown: cooldown,
	}, nil
}

// Select returns the next target for the named group by weighted
// round-robin over its currently healthy members. It fails with
// ErrNoHealthyTarget when the group is unknown or every member is in
// cool-down.
func (p *Pool) Select(groupName string) (*Target, error) {
	g, ok := p.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", groupName, proxy.ErrNoHealthyTarget)
	}

	healthy := make([]*Target, 0, len(g.targets))
	totalWeight := 0
	for _, t := range g.targets {
		if t.Healthy() {
			healthy = append(healthy, t)
			totalWeight += t.Weight
		}
	}
	if totalWeight == 0 {
		return nil, fmt.Errorf("group %q: %w", groupName, proxy.ErrNoHealthyTarget)
	}

	// Advance the cursor one step and map the position onto the
	// cumulative weight line of the healthy members.
	pos := (g.cursor.Add(1) - 1) % uint64(totalWeight)
	cumulative := uint64(0)
	for _, t := range healthy {
		cumulative += uint64(t.Weight)
		if pos < cumulative {
			return t, nil
		}
	}

	// Unreachable: pos < totalWeight by construction.
	return healthy[len(healthy)-1], nil
}

// MarkUnhealthy excludes a target from selection for the cool-down
// interval. Callers report it after an upstream connect failure.
func (p *Pool) MarkUnhealthy(t *Target) {
	t.unhealthyUntil.Store(time.Now().Add(p.cooldown).UnixNano())
}

// Groups returns the configured group names, for startup logging.
func (p *Pool) Groups() []string {
	names := make([]string, 0, len(p.groups))
	for name := range p.groups {
		names = append(names, name)
	}
	return names
}
