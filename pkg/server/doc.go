// Package server accepts client connections and dispatches them to the
// protocol engine selected at startup.
//
// # Architecture
//
// The server is the top-level orchestrator. It:
//   - Listens on the configured address, optionally terminating TLS
//   - Serves connections from a bounded worker pool with a bounded
//     accept queue, refusing connections past both limits
//   - Builds the forward, reverse, or SOCKS5 engine and its shared
//     dependencies (cache, rate limiter, authenticator, allow-list)
//   - Records every connection in metrics and the access log
//   - Drains in-flight connections on shutdown within a timeout
//
// # Basic Usage
//
//	cfg, err := config.LoadConfig(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Cancelling ctx initiates graceful shutdown: the listener closes, queued
// and in-flight connections finish, and whatever remains after the
// shutdown timeout is force-closed.
//
// # Hot Reload
//
// Reload applies the hot-reloadable configuration sections (credentials
// and the active mode's domain allow-list) without dropping connections.
// The configuration watcher calls it after each successful reload;
// structural settings such as mode or listen address require a restart.
package server
