// Charon is a multi-mode proxy server.
//
// It serves one of three protocol modes selected by configuration:
//   - forward: HTTP/HTTPS forward proxying with CONNECT tunnels
//   - reverse: weighted load balancing across backend target groups
//   - socks5: RFC 1928 SOCKS5 with optional username/password auth
//
// All modes share TLS termination, basic authentication, per-client
// rate limiting, response caching, Prometheus metrics, and a
// SQLite-backed access log.
//
// Usage:
//
//	# Start the proxy with the default configuration file
//	charon run
//
//	# Start with a custom configuration file
//	charon run --config /etc/charon/config.yaml
//
//	# Check a configuration file without starting
//	charon validate
//
//	# Query the access log
//	charon logs --limit 50
//
//	# Load test a running proxy
//	charon bench --target http://localhost:8080 --rate 100
//
//	# Show version information
//	charon version
package main

func main() {
	Execute()
}
