package socket

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Handle wraps a single connection with the cancellable send_all/recv_exact
// contract spec.md §4.2 specifies. It is the façade the message-queue
// transport (§4.3) is built on; the broker's client-stdio Conn
// (internal/dap.NewConn) reads and writes its streams directly instead.
type Handle struct {
	conn  net.Conn
	token *CancellationToken
}

// NewHandle wraps an already-established net.Conn.
func NewHandle(c net.Conn, token *CancellationToken) *Handle {
	if token == nil {
		token = NewCancellationToken()
	}
	return &Handle{conn: c, token: token}
}

func (h *Handle) Token() *CancellationToken { return h.token }

func (h *Handle) Conn() net.Conn { return h.conn }

// RecvExact reads exactly n bytes, or returns an error (ErrCancelled if the
// token fired mid-read).
func (h *Handle) RecvExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := h.recvSome(buf[read:])
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, errors.New("socket: connection closed mid-read")
		}
		read += m
	}
	return buf, nil
}

func (h *Handle) recvSome(buf []byte) (int, error) {
	var n int
	err := h.token.guard(h.conn, func() error {
		var readErr error
		n, readErr = h.conn.Read(buf)
		return readErr
	})
	return n, err
}

// SendAll writes all of data, blocking until fully written or cancelled.
func (h *Handle) SendAll(data []byte) error {
	return h.token.guard(h.conn, func() error {
		_, err := h.conn.Write(data)
		return err
	})
}

// Shutdown half-closes the connection the way spec.md §4.2 calls for:
// reads are unblocked via CloseRead, writes via CloseWrite, where the
// underlying net.Conn type exposes them (TCP and Unix connections both
// do); otherwise the whole connection is closed.
func (h *Handle) Shutdown(how ShutdownHow) error {
	type readCloser interface{ CloseRead() error }
	type writeCloser interface{ CloseWrite() error }

	switch how {
	case ShutdownRead:
		if rc, ok := h.conn.(readCloser); ok {
			return rc.CloseRead()
		}
	case ShutdownWrite:
		if wc, ok := h.conn.(writeCloser); ok {
			return wc.CloseWrite()
		}
	}
	return h.conn.Close()
}

type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

func (h *Handle) Close() error {
	return h.conn.Close()
}

// Dial connects to addr, honouring a per-call timeout independently of the
// cancellation token (spec.md §4.2 "`connect` honours a per-call timeout
// independently of the token"). For a TCP address it tries every resolved
// IP in order before giving up (original_source ClientMPQueue.start's
// getaddrinfo fallback, PART E.4 of SPEC_FULL.md).
func Dial(ctx context.Context, addr Address, token *CancellationToken, timeout time.Duration) (*Handle, error) {
	if token == nil {
		token = NewCancellationToken()
	}

	dialer := &net.Dialer{Timeout: timeout}

	var lastErr error
	switch addr.Network {
	case NetworkTCP:
		if addr.Host == "" {
			return nil, errors.New("socket: cannot dial a bind-all address")
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, addr.Host)
		if err != nil {
			return nil, errors.Wrap(err, "socket: resolve host")
		}
		for _, ip := range ips {
			c, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), addr.Port))
			if err == nil {
				return NewHandle(c, token), nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.Errorf("socket: no addresses found for %s", addr.Host)
		}
		return nil, errors.Wrap(lastErr, "socket: dial")

	case NetworkUnix:
		c, err := dialUnix(ctx, dialer, addr.Path)
		if err != nil {
			return nil, errors.Wrap(err, "socket: dial")
		}
		return NewHandle(c, token), nil

	default:
		return nil, errors.Errorf("socket: unsupported network %q", addr.Network)
	}
}

// Listener wraps net.Listener with the accept-with-cancel contract.
type Listener struct {
	ln    net.Listener
	token *CancellationToken
}

// Listen binds addr. For a bind-all TCP address it prefers a dual-stack
// IPv6 listener so both v4 and v6 clients can attach (PART E.5 of
// SPEC_FULL.md), falling back to IPv4-only if the platform has no
// dual-stack support.
func Listen(addr Address, token *CancellationToken) (*Listener, error) {
	if token == nil {
		token = NewCancellationToken()
	}

	var network, laddr string
	switch addr.Network {
	case NetworkTCP:
		network = "tcp"
		if addr.Host == "" {
			network = "tcp" // net.Listen("tcp", ":port") already dual-stacks when available
		}
		laddr = addr.Host + ":" + addr.Port
	case NetworkUnix:
		ln, err := listenUnix(addr.Path)
		if err != nil {
			return nil, errors.Wrap(err, "socket: listen")
		}
		return &Listener{ln: ln, token: token}, nil
	default:
		return nil, errors.Errorf("socket: unsupported network %q", addr.Network)
	}

	ln, err := net.Listen(network, laddr)
	if err != nil {
		return nil, errors.Wrap(err, "socket: listen")
	}
	return &Listener{ln: ln, token: token}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection, cancellable via the listener's
// token and subject to an optional timeout.
func (l *Listener) Accept(timeout time.Duration) (*Handle, error) {
	if tl, ok := l.ln.(interface{ SetDeadline(time.Time) error }); ok && timeout > 0 {
		_ = tl.SetDeadline(time.Now().Add(timeout))
	}

	var c net.Conn
	err := l.token.guard(l.ln, func() error {
		var acceptErr error
		c, acceptErr = l.ln.Accept()
		return acceptErr
	})
	if err != nil {
		return nil, err
	}
	return NewHandle(c, l.token), nil
}

func (l *Listener) Close() error { return l.ln.Close() }

// WrapClientTLS upgrades an established connection to TLS as a client.
func WrapClientTLS(h *Handle, cfg *tls.Config, serverName string) (*Handle, error) {
	conf := cfg.Clone()
	if conf.ServerName == "" {
		conf.ServerName = serverName
	}
	tc := tls.Client(h.conn, conf)
	if err := tc.HandshakeContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, "socket: tls client handshake")
	}
	return &Handle{conn: tc, token: h.token}, nil
}

// WrapServerTLS upgrades an accepted connection to TLS as a server,
// optionally requiring a client certificate when cfg.ClientAuth demands
// one (mutual auth, spec.md §4.2).
func WrapServerTLS(h *Handle, cfg *tls.Config) (*Handle, error) {
	ts := tls.Server(h.conn, cfg)
	if err := ts.HandshakeContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, "socket: tls server handshake")
	}
	return &Handle{conn: ts, token: h.token}, nil
}
