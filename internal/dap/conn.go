package dap

import (
	"context"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
)

// Conn is a bidirectional DAP message stream: the client-stdio pair for
// the broker, or the debuggee socket. Grounded on the teacher's
// dap/common.Conn interface, generalized so either side of this codec can
// speak it without depending on a single process-pair topology.
type Conn interface {
	SendMsg(m dap.Message) error
	RecvMsg(ctx context.Context) (dap.Message, error)
	Close() error
}

type conn struct {
	w  io.Writer
	rc io.Closer
	wc io.Closer
	r  io.Reader

	enc *Encoder

	mu      sync.Mutex
	dec     *Decoder
	readBuf []byte

	recvCh chan recvResult
	once   sync.Once
}

type recvResult struct {
	msg dap.Message
	err error
}

// NewConn wraps a reader half and writer half of a DAP stream (e.g.
// os.Stdin/os.Stdout, or the two halves of a socket) with this package's
// framing. A background goroutine performs all reads; RecvMsg only ever
// consumes from its channel, matching spec.md §4.2's "receives are
// performed only from the receiver thread of the transport above".
func NewConn(r io.Reader, w io.Writer, registry *Registry) Conn {
	c := &conn{
		w:      w,
		r:      r,
		enc:    NewEncoder(),
		dec:    NewDecoder(registry),
		recvCh: make(chan recvResult, 16),
	}
	if rc, ok := r.(io.Closer); ok {
		c.rc = rc
	}
	if wc, ok := w.(io.Closer); ok {
		c.wc = wc
	}
	go c.readLoop()
	return c
}

func (c *conn) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		for {
			msg, err := c.dec.Next()
			if err == nil {
				c.recvCh <- recvResult{msg: msg}
				continue
			}
			if errors.Is(err, ErrIncomplete) {
				break
			}
			c.recvCh <- recvResult{err: err}
			close(c.recvCh)
			return
		}

		n, err := c.r.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				c.recvCh <- recvResult{err: io.EOF}
			} else {
				c.recvCh <- recvResult{err: errors.Wrap(err, "dap: read")}
			}
			close(c.recvCh)
			return
		}
	}
}

func (c *conn) SendMsg(m dap.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.enc.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := c.w.Write(b); err != nil {
		return errors.Wrap(err, "dap: write")
	}
	return nil
}

func (c *conn) RecvMsg(ctx context.Context) (dap.Message, error) {
	select {
	case res, ok := <-c.recvCh:
		if !ok {
			return nil, io.EOF
		}
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		if c.rc != nil {
			if cerr := c.rc.Close(); cerr != nil {
				err = cerr
			}
		}
		if c.wc != nil && c.wc != c.rc {
			if cerr := c.wc.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
