// Package config defines Charon's configuration model and loading logic.
//
// Configuration is read from a YAML document, filled in with defaults,
// optionally overridden from CHARON_* environment variables, and
// validated. Validation failures are fatal at startup: a reverse-proxy
// group whose weights sum to zero, a missing certificate file, or an
// unknown proxy mode never reaches the serving path.
//
// A minimal forward-proxy configuration:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	proxy:
//	  mode: forward
//	  forward:
//	    allowed_domains:
//	      - "*.example.com"
//
// The Watcher reloads the file on change so credential and allow-list
// edits apply without a restart.
package config
