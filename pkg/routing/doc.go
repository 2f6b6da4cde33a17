// Package routing resolves reverse-proxy requests to backend targets.
//
// A Table maps URL path prefixes to target group names with
// longest-prefix-wins semantics, and a Pool selects among a group's
// healthy members by weighted round-robin. Connect failures degrade a
// target for a cool-down interval; recovery is automatic. Both structures
// are constructed once at startup from static configuration and shared by
// every connection handler.
package routing
