package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"stratos-hq/charon/pkg/proxy"
	"stratos-hq/charon/pkg/security/auth"
)

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		server, err = ln.Accept()
		close(done)
	}()
	client, dialErr := net.Dial("tcp", ln.Addr().String())
	if dialErr != nil {
		t.Fatalf("dial: %v", dialErr)
	}
	<-done
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func serve(t *testing.T, h *Handler) (net.Conn, <-chan error) {
	t.Helper()
	client, server := tcpPair(t)
	conn := proxy.NewConn(server)
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Handle(context.Background(), conn)
	}()
	return client, errCh
}

// echoListener starts an upstream that echoes bytes back.
func echoListener(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

// connectRequest builds a CONNECT request for an IPv4 destination.
func connectRequest(addr *net.TCPAddr) []byte {
	req := []byte{socksVersion, cmdConnect, 0x00, atypIPv4}
	req = append(req, addr.IP.To4()...)
	return binary.BigEndian.AppendUint16(req, uint16(addr.Port))
}

// readReply reads a SOCKS5 reply and returns its code.
func readReply(t *testing.T, r io.Reader) byte {
	t.Helper()
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		t.Fatalf("read reply header: %v", err)
	}
	var addrLen int
	switch header[3] {
	case atypIPv4:
		addrLen = net.IPv4len
	case atypIPv6:
		addrLen = net.IPv6len
	default:
		t.Fatalf("unexpected reply address type %#x", header[3])
	}
	rest := make([]byte, addrLen+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		t.Fatalf("read reply address: %v", err)
	}
	return header[1]
}

func TestNoAuthConnectAndRelay(t *testing.T) {
	upstream := echoListener(t)
	h := New(Options{DialTimeout: time.Second, IdleTimeout: time.Second})
	client, errCh := serve(t, h)

	// Greeting offering no-auth.
	client.Write([]byte{socksVersion, 1, methodNoAuth})
	choice := make([]byte, 2)
	if _, err := io.ReadFull(client, choice); err != nil {
		t.Fatalf("read method selection: %v", err)
	}
	if choice[1] != methodNoAuth {
		t.Fatalf("selected method = %#x, want no-auth", choice[1])
	}

	client.Write(connectRequest(upstream))
	if code := readReply(t, client); code != replySucceeded {
		t.Fatalf("reply code = %#x, want success", code)
	}

	io.WriteString(client, "hello")
	buf := make([]byte, 5)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("echo = %q", buf)
	}

	client.Close()
	if err := <-errCh; err != nil {
		t.Errorf("Handle() error = %v", err)
	}
}

func TestRejectsWrongVersion(t *testing.T) {
	h := New(Options{})
	client, errCh := serve(t, h)

	client.Write([]byte{0x04, 1, methodNoAuth})
	resp := make([]byte, 2)
	if _, err := io.ReadFull(client, resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp[1] != methodNoAcceptable {
		t.Errorf("response = %#x, want no-acceptable-methods", resp[1])
	}

	err := <-errCh
	var protoErr *proxy.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("Handle() error = %v, want ProtocolError", err)
	}
}

func TestNoAcceptableMethod(t *testing.T) {
	// Auth required but the client only offers no-auth.
	h := New(Options{RequireAuth: true, Auth: auth.NewBasicAuthenticator(nil)})
	client, errCh := serve(t, h)

	client.Write([]byte{socksVersion, 1, methodNoAuth})
	resp := make([]byte, 2)
	if _, err := io.ReadFull(client, resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp[1] != methodNoAcceptable {
		t.Errorf("response = %#x, want no-acceptable-methods", resp[1])
	}
	<-errCh
}

func TestUserPassAuthentication(t *testing.T) {
	authn := auth.NewBasicAuthenticator([]auth.Credential{
		{Username: "alice", PasswordHash: "s3cret"},
	})

	writeAuth := func(c net.Conn, user, pass string) {
		msg := []byte{authVersion, byte(len(user))}
		msg = append(msg, user...)
		msg = append(msg, byte(len(pass)))
		msg = append(msg, pass...)
		c.Write(msg)
	}

	t.Run("success", func(t *testing.T) {
		upstream := echoListener(t)
		h := New(Options{RequireAuth: true, Auth: authn, DialTimeout: time.Second})
		client, errCh := serve(t, h)

		client.Write([]byte{socksVersion, 2, methodNoAuth, methodUserPass})
		choice := make([]byte, 2)
		io.ReadFull(client, choice)
		if choice[1] != methodUserPass {
			t.Fatalf("selected method = %#x, want username/password", choice[1])
		}

		writeAuth(client, "alice", "s3cret")
		status := make([]byte, 2)
		if _, err := io.ReadFull(client, status); err != nil {
			t.Fatalf("read auth status: %v", err)
		}
		if status[1] != authSucceeded {
			t.Fatalf("auth status = %#x, want success", status[1])
		}

		client.Write(connectRequest(upstream))
		if code := readReply(t, client); code != replySucceeded {
			t.Fatalf("reply code = %#x", code)
		}
		client.Close()
		<-errCh
	})

	t.Run("bad credentials", func(t *testing.T) {
		h := New(Options{RequireAuth: true, Auth: authn})
		client, errCh := serve(t, h)

		client.Write([]byte{socksVersion, 1, methodUserPass})
		choice := make([]byte, 2)
		io.ReadFull(client, choice)

		writeAuth(client, "alice", "wrong")
		status := make([]byte, 2)
		if _, err := io.ReadFull(client, status); err != nil {
			t.Fatalf("read auth status: %v", err)
		}
		if status[1] != authFailed {
			t.Errorf("auth status = %#x, want failure", status[1])
		}
		if err := <-errCh; !errors.Is(err, proxy.ErrAuthFailed) {
			t.Errorf("Handle() error = %v, want ErrAuthFailed", err)
		}
	})
}

func TestBindNotSupported(t *testing.T) {
	h := New(Options{})
	client, errCh := serve(t, h)

	client.Write([]byte{socksVersion, 1, methodNoAuth})
	io.ReadFull(client, make([]byte, 2))

	req := []byte{socksVersion, cmdBind, 0x00, atypIPv4, 127, 0, 0, 1, 0x1F, 0x90}
	client.Write(req)
	if code := readReply(t, client); code != replyCommandNotSupported {
		t.Errorf("reply code = %#x, want command-not-supported", code)
	}
	<-errCh
}

func TestUnsupportedAddressType(t *testing.T) {
	h := New(Options{})
	client, errCh := serve(t, h)

	client.Write([]byte{socksVersion, 1, methodNoAuth})
	io.ReadFull(client, make([]byte, 2))

	client.Write([]byte{socksVersion, cmdConnect, 0x00, 0x09})
	if code := readReply(t, client); code != replyAddrTypeUnsupported {
		t.Errorf("reply code = %#x, want address-type-not-supported", code)
	}
	<-errCh
}

func TestDomainDeniedByAllowList(t *testing.T) {
	h := New(Options{
		AllowList:   proxy.NewAllowList([]string{"*.example.com"}),
		DialTimeout: time.Second,
	})
	client, errCh := serve(t, h)

	client.Write([]byte{socksVersion, 1, methodNoAuth})
	io.ReadFull(client, make([]byte, 2))

	domain := "evil.org"
	req := []byte{socksVersion, cmdConnect, 0x00, atypDomain, byte(len(domain))}
	req = append(req, domain...)
	req = binary.BigEndian.AppendUint16(req, 443)
	client.Write(req)

	if code := readReply(t, client); code != replyNotAllowed {
		t.Errorf("reply code = %#x, want not-allowed-by-ruleset", code)
	}
	if err := <-errCh; !errors.Is(err, proxy.ErrDomainNotAllowed) {
		t.Errorf("Handle() error = %v, want ErrDomainNotAllowed", err)
	}
}

func TestConnectionRefusedReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	h := New(Options{DialTimeout: time.Second})
	client, errCh := serve(t, h)

	client.Write([]byte{socksVersion, 1, methodNoAuth})
	io.ReadFull(client, make([]byte, 2))

	client.Write(connectRequest(addr))
	if code := readReply(t, client); code != replyConnectionRefused {
		t.Errorf("reply code = %#x, want connection-refused", code)
	}
	if err := <-errCh; !errors.Is(err, proxy.ErrUpstreamUnreachable) {
		t.Errorf("Handle() error = %v, want ErrUpstreamUnreachable", err)
	}
}

func TestRateLimitedClosesBeforeHandshake(t *testing.T) {
	h := New(Options{Limiter: denyAll{}})
	client, errCh := serve(t, h)

	if err := <-errCh; !errors.Is(err, proxy.ErrRateLimited) {
		t.Fatalf("Handle() error = %v, want ErrRateLimited", err)
	}

	// The server never responds; a read after the handler returns and
	// the connection closes yields EOF.
	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Error("expected no handshake bytes from a rate limited connection")
	}
}

type denyAll struct{}

func (denyAll) Admit(string) bool { return false }
