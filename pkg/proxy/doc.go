// Package proxy contains the machinery shared by Charon's three protocol
// engines: the per-connection state model, the error taxonomy that maps
// failures to protocol responses, and the bidirectional relay primitive
// used by forward CONNECT tunnels, SOCKS5 streams, and reverse upstream
// legs.
//
// The engines themselves live in the forward, reverse, and socks5
// subpackages. Each implements Handler and is selected exactly once at
// startup by the server's mode dispatch.
package proxy
