// Package socks5 implements the SOCKS5 proxy engine: version and method
// negotiation, optional username/password authentication, the CONNECT
// command, and the shared byte relay.
//
// Wire format follows RFC 1928 (protocol) and RFC 1929 (username/password
// subnegotiation). BIND and UDP ASSOCIATE are answered with "command not
// supported".
package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"stratos-hq/charon/pkg/proxy"
	"stratos-hq/charon/pkg/security/auth"
)

// Protocol constants per RFC 1928/1929.
const (
	socksVersion = 0x05
	authVersion  = 0x01

	methodNoAuth       = 0x00
	methodUserPass     = 0x02
	methodNoAcceptable = 0xFF

	cmdConnect      = 0x01
	cmdBind         = 0x02
	cmdUDPAssociate = 0x03

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySucceeded           = 0x00
	replyGeneralFailure      = 0x01
	replyNotAllowed          = 0x02
	replyNetworkUnreachable  = 0x03
	replyHostUnreachable     = 0x04
	replyConnectionRefused   = 0x05
	replyCommandNotSupported = 0x07
	replyAddrTypeUnsupported = 0x08

	authSucceeded = 0x00
	authFailed    = 0x01
)

// state tracks a connection's progress through the SOCKS5 engine.
type state int

const (
	stateVersionNegotiation state = iota
	stateAuthNegotiation
	stateAuthenticating
	stateRequest
	stateConnecting
	stateRelaying
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateVersionNegotiation:
		return "version_negotiation"
	case stateAuthNegotiation:
		return "auth_negotiation"
	case stateAuthenticating:
		return "authenticating"
	case stateRequest:
		return "request"
	case stateConnecting:
		return "connecting"
	case stateRelaying:
		return "relaying"
	default:
		return "closed"
	}
}

// Options configures the SOCKS5 engine.
type Options struct {
	// RequireAuth selects username/password negotiation instead of
	// no-auth.
	RequireAuth bool

	// AllowList restricts domain-typed destinations; nil or empty
	// allows all. Literal IP destinations are not filtered.
	AllowList *proxy.AllowList

	// Auth verifies credentials when RequireAuth is set.
	Auth auth.Authenticator

	// Limiter admits connections per client identity; nil disables.
	Limiter proxy.Admitter

	// DialTimeout bounds upstream connection establishment.
	DialTimeout time.Duration

	// IdleTimeout closes a relay direction with no traffic.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Handler is the SOCKS5 proxy engine.
type Handler struct {
	opts   Options
	logger *slog.Logger
}

// New creates the SOCKS5 engine.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		opts:   opts,
		logger: opts.Logger.With("mode", "socks5"),
	}
}

// Mode implements proxy.Handler.
func (h *Handler) Mode() string { return "socks5" }

func (h *Handler) transition(conn *proxy.Conn, to state) {
	h.logger.Debug("state transition", "conn_id", conn.ID, "state", to.String())
}

// Handle runs the full SOCKS5 exchange: greeting, optional
// authentication, the CONNECT request, then the relay.
func (h *Handler) Handle(ctx context.Context, conn *proxy.Conn) error {
	if h.opts.Limiter != nil && !h.opts.Limiter.Admit(conn.RemoteHost()) {
		// SOCKS5 has no throttling reply code; deny before the
		// handshake by closing.
		return fmt.Errorf("client %s: %w", conn.RemoteHost(), proxy.ErrRateLimited)
	}

	if err := h.negotiate(conn); err != nil {
		return err
	}
	return h.serveRequest(ctx, conn)
}

// negotiate runs the greeting and, when selected, the username/password
// subnegotiation.
func (h *Handler) negotiate(conn *proxy.Conn) error {
	h.transition(conn, stateVersionNegotiation)

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn.Reader, header); err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short greeting", Err: err}
	}
	if header[0] != socksVersion {
		conn.Raw.Write([]byte{socksVersion, methodNoAcceptable})
		return &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unsupported version %#x", header[0])}
	}

	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn.Reader, methods); err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short method list", Err: err}
	}

	h.transition(conn, stateAuthNegotiation)
	switch {
	case h.opts.RequireAuth && offers(methods, methodUserPass):
		if _, err := conn.Raw.Write([]byte{socksVersion, methodUserPass}); err != nil {
			return err
		}
		return h.authenticate(conn)
	case !h.opts.RequireAuth && offers(methods, methodNoAuth):
		_, err := conn.Raw.Write([]byte{socksVersion, methodNoAuth})
		return err
	default:
		conn.Raw.Write([]byte{socksVersion, methodNoAcceptable})
		return &proxy.ProtocolError{Mode: "socks5", Detail: "no acceptable auth method"}
	}
}

// authenticate runs the RFC 1929 username/password subnegotiation.
func (h *Handler) authenticate(conn *proxy.Conn) error {
	h.transition(conn, stateAuthenticating)

	ver, err := conn.Reader.ReadByte()
	if err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short auth request", Err: err}
	}
	if ver != authVersion {
		conn.Raw.Write([]byte{authVersion, authFailed})
		return &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unsupported auth version %#x", ver)}
	}

	username, err := readLengthPrefixed(conn.Reader)
	if err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short username", Err: err}
	}
	password, err := readLengthPrefixed(conn.Reader)
	if err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short password", Err: err}
	}

	identity, err := h.opts.Auth.Verify(string(username), string(password))
	if err != nil {
		conn.Raw.Write([]byte{authVersion, authFailed})
		return fmt.Errorf("socks5 subnegotiation: %w", err)
	}

	conn.Identity = identity
	_, err = conn.Raw.Write([]byte{authVersion, authSucceeded})
	return err
}

// serveRequest parses the command, connects upstream, and relays.
func (h *Handler) serveRequest(ctx context.Context, conn *proxy.Conn) error {
	h.transition(conn, stateRequest)

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn.Reader, header); err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short request", Err: err}
	}
	if header[0] != socksVersion {
		h.reply(conn, replyGeneralFailure)
		return &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unsupported request version %#x", header[0])}
	}

	host, isDomain, err := h.readAddr(conn, header[3])
	if err != nil {
		return err
	}
	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn.Reader, portBytes); err != nil {
		return &proxy.ProtocolError{Mode: "socks5", Detail: "short port", Err: err}
	}
	port := binary.BigEndian.Uint16(portBytes)

	switch header[1] {
	case cmdConnect:
	case cmdBind, cmdUDPAssociate:
		h.reply(conn, replyCommandNotSupported)
		return &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unsupported command %#x", header[1])}
	default:
		h.reply(conn, replyCommandNotSupported)
		return &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unknown command %#x", header[1])}
	}

	if isDomain && h.opts.AllowList != nil && !h.opts.AllowList.Allows(host) {
		h.reply(conn, replyNotAllowed)
		return fmt.Errorf("socks5 connect %s: %w", host, proxy.ErrDomainNotAllowed)
	}

	h.transition(conn, stateConnecting)
	hostPort := net.JoinHostPort(host, strconv.Itoa(int(port)))
	dialer := &net.Dialer{Timeout: h.opts.DialTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		h.reply(conn, dialReplyCode(err))
		return fmt.Errorf("socks5 connect %s: %v: %w", hostPort, err, proxy.ErrUpstreamUnreachable)
	}
	defer upstream.Close()

	conn.Target = hostPort
	if err := h.replyBound(conn, upstream.LocalAddr()); err != nil {
		return err
	}

	h.logger.Debug("tunnel established",
		"conn_id", conn.ID,
		"target", hostPort,
	)
	h.transition(conn, stateRelaying)
	err = proxy.Relay(ctx, conn, upstream, h.opts.IdleTimeout)
	h.transition(conn, stateClosed)
	return err
}

// readAddr parses the destination address field. It reports whether the
// address was domain-typed, which decides allow-list applicability.
func (h *Handler) readAddr(conn *proxy.Conn, atyp byte) (host string, isDomain bool, err error) {
	switch atyp {
	case atypIPv4:
		buf := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(conn.Reader, buf); err != nil {
			return "", false, &proxy.ProtocolError{Mode: "socks5", Detail: "short IPv4 address", Err: err}
		}
		return net.IP(buf).String(), false, nil
	case atypIPv6:
		buf := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(conn.Reader, buf); err != nil {
			return "", false, &proxy.ProtocolError{Mode: "socks5", Detail: "short IPv6 address", Err: err}
		}
		return net.IP(buf).String(), false, nil
	case atypDomain:
		name, err := readLengthPrefixed(conn.Reader)
		if err != nil {
			return "", false, &proxy.ProtocolError{Mode: "socks5", Detail: "short domain", Err: err}
		}
		return string(name), true, nil
	default:
		h.reply(conn, replyAddrTypeUnsupported)
		return "", false, &proxy.ProtocolError{Mode: "socks5", Detail: fmt.Sprintf("unsupported address type %#x", atyp)}
	}
}

// reply sends a reply with a zero IPv4 bind address, used for failures.
func (h *Handler) reply(conn *proxy.Conn, code byte) {
	msg := []byte{socksVersion, code, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	conn.Raw.Write(msg)
}

// replyBound sends the success reply carrying the locally bound address
// of the upstream socket.
func (h *Handler) replyBound(conn *proxy.Conn, bound net.Addr) error {
	tcpAddr, ok := bound.(*net.TCPAddr)
	if !ok {
		h.reply(conn, replySucceeded)
		return nil
	}

	var msg []byte
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		msg = append([]byte{socksVersion, replySucceeded, 0x00, atypIPv4}, ip4...)
	} else {
		msg = append([]byte{socksVersion, replySucceeded, 0x00, atypIPv6}, tcpAddr.IP.To16()...)
	}
	msg = binary.BigEndian.AppendUint16(msg, uint16(tcpAddr.Port))
	_, err := conn.Raw.Write(msg)
	return err
}

// dialReplyCode maps a dial error to the closest SOCKS5 reply code.
func dialReplyCode(err error) byte {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return replyConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return replyNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return replyHostUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return replyHostUnreachable
	}
	var timeoutErr net.Error
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return replyHostUnreachable
	}
	return replyGeneralFailure
}

func offers(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// readLengthPrefixed reads a single length byte then that many bytes.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length [1]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, length[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
