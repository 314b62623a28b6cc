// Package mpqueue implements the framed message-queue transport (spec.md
// §4.3): a length-prefixed record codec between the adapter and the
// debuggee, independent of the external DAP stream the broker speaks with
// the client. Grounded on original_source/src/ansibug/_mp_queue.py's
// MPQueue/ClientMPQueue/ServerMPQueue, re-expressed over the socket
// façade in internal/socket instead of raw Python sockets.
package mpqueue

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"sync"
	"time"

	gdap "github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/socket"
)

// Handler receives callbacks from a Queue's background receive thread, the
// same three hooks original_source's MPProtocol protocol class specifies.
type Handler interface {
	OnMsgReceived(msg gdap.Message)
	ConnectionClosed(err error)
	ConnectionMade()
}

// Queue wraps a socket.Handle with the length-prefixed record codec and
// background receive thread spec.md §4.3 describes.
type Queue struct {
	handle  *socket.Handle
	handler Handler
	enc     *dap.Encoder
	dec     *dap.Decoder

	wg       sync.WaitGroup
	sendMu   sync.Mutex
	stopOnce sync.Once
}

func newQueue(handle *socket.Handle, handler Handler, registry *dap.Registry) *Queue {
	return &Queue{
		handle:  handle,
		handler: handler,
		enc:     dap.NewEncoder(),
		dec:     dap.NewDecoder(registry),
	}
}

// Start begins the background receive thread and fires ConnectionMade.
// Matches spec.md §4.3's "A connection_made() hook fires after start."
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.recvLoop()
	q.handler.ConnectionMade()
}

func (q *Queue) recvLoop() {
	defer q.wg.Done()

	for {
		lenBuf, err := q.handle.RecvExact(4)
		if err != nil {
			q.handleRecvErr(err)
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf)
		if n == 0 {
			continue
		}

		payload, err := q.handle.RecvExact(int(n))
		if err != nil {
			q.handleRecvErr(err)
			return
		}

		msg, err := q.dec.DecodeBody(payload)
		if err != nil {
			q.handler.ConnectionClosed(errors.Wrap(err, "mpqueue: decode payload"))
			return
		}
		q.handler.OnMsgReceived(msg)
	}
}

func (q *Queue) handleRecvErr(err error) {
	if errors.Is(err, socket.ErrCancelled) {
		q.handler.ConnectionClosed(nil)
		return
	}
	q.handler.ConnectionClosed(err)
}

// Send serializes and pushes msg, blocking until fully written.
func (q *Queue) Send(msg gdap.Message) error {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	body, err := q.enc.MarshalBody(msg)
	if err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if err := q.handle.SendAll(lenBuf[:]); err != nil {
		return err
	}
	return q.handle.SendAll(body)
}

// Stop cancels the token, joins the receive thread, and closes the socket.
func (q *Queue) Stop() error {
	var err error
	q.stopOnce.Do(func() {
		q.handle.Token().Cancel()
		q.wg.Wait()
		err = q.handle.Close()
	})
	return err
}

// Addr reports the local address this queue's socket is bound to.
func (q *Queue) Addr() string {
	return q.handle.Conn().LocalAddr().String()
}

// ClientQueue connects out to a listening debuggee/broker (ClientMPQueue
// in original_source).
type ClientQueue struct {
	*Queue
}

// DialClient connects to addr and starts the queue, honouring timeout
// (0 means no deadline) and an optional TLS client config.
func DialClient(ctx context.Context, addr socket.Address, handler Handler, registry *dap.Registry, tlsConfig *tls.Config, timeout time.Duration) (*ClientQueue, error) {
	token := socket.NewCancellationToken()
	handle, err := socket.Dial(ctx, addr, token, timeout)
	if err != nil {
		return nil, err
	}

	if tlsConfig != nil {
		handle, err = socket.WrapClientTLS(handle, tlsConfig, addr.Host)
		if err != nil {
			return nil, err
		}
	}

	q := newQueue(handle, handler, registry)
	q.Start()
	return &ClientQueue{Queue: q}, nil
}

// ServerQueue accepts one connection from a launched/attaching peer
// (ServerMPQueue in original_source).
type ServerQueue struct {
	*Queue
	listener *socket.Listener
}

// ListenServer binds addr and returns a ServerQueue whose Accept must be
// called to complete setup once a peer connects.
func ListenServer(addr socket.Address, token *socket.CancellationToken) (*ServerQueue, error) {
	if token == nil {
		token = socket.NewCancellationToken()
	}
	ln, err := socket.Listen(addr, token)
	if err != nil {
		return nil, err
	}
	return &ServerQueue{listener: ln}, nil
}

func (s *ServerQueue) Addr() string { return s.listener.Addr().String() }

// Accept blocks (up to timeout, 0 meaning no timeout) for the single
// expected peer connection, optionally wraps it server-side with TLS, and
// starts the queue.
func (s *ServerQueue) Accept(handler Handler, registry *dap.Registry, tlsConfig *tls.Config, timeout time.Duration) error {
	handle, err := s.listener.Accept(timeout)
	if err != nil {
		return err
	}

	if tlsConfig != nil {
		handle, err = socket.WrapServerTLS(handle, tlsConfig)
		if err != nil {
			return err
		}
	}

	s.Queue = newQueue(handle, handler, registry)
	s.Queue.Start()
	return nil
}

// Cancel unblocks a pending Accept without a connection ever arriving.
func (s *ServerQueue) Cancel() {
	s.listener.Close()
}
