package mpqueue_test

import (
	"context"
	"testing"
	"time"

	gdap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/socket"
)

// recordingHandler captures every message/close/made callback it receives
// so tests can assert on them without racing on a bare slice.
type recordingHandler struct {
	msgs   chan gdap.Message
	closed chan error
	made   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		msgs:   make(chan gdap.Message, 8),
		closed: make(chan error, 1),
		made:   make(chan struct{}, 1),
	}
}

func (h *recordingHandler) OnMsgReceived(msg gdap.Message) { h.msgs <- msg }
func (h *recordingHandler) ConnectionClosed(err error)     { h.closed <- err }
func (h *recordingHandler) ConnectionMade()                { h.made <- struct{}{} }

func dialedPair(t *testing.T) (*mpqueue.ClientQueue, *recordingHandler, *mpqueue.ServerQueue, *recordingHandler) {
	t.Helper()

	addr, err := socket.ParseAddress("uds://")
	require.NoError(t, err)

	server, err := mpqueue.ListenServer(addr, nil)
	require.NoError(t, err)

	serverHandler := newRecordingHandler()
	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept(serverHandler, internaldap.DefaultRegistry(), nil, 5*time.Second) }()

	clientHandler := newRecordingHandler()
	client, err := mpqueue.DialClient(context.Background(), addr, clientHandler, internaldap.DefaultRegistry(), nil, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, <-accepted)

	select {
	case <-clientHandler.made:
	case <-time.After(time.Second):
		t.Fatal("client ConnectionMade never fired")
	}
	select {
	case <-serverHandler.made:
	case <-time.After(time.Second):
		t.Fatal("server ConnectionMade never fired")
	}

	t.Cleanup(func() {
		_ = client.Stop()
		_ = server.Stop()
	})

	return client, clientHandler, server, serverHandler
}

func TestQueueRoundTripBothDirections(t *testing.T) {
	client, clientHandler, server, serverHandler := dialedPair(t)

	require.NoError(t, client.Send(&gdap.InitializeRequest{
		Request:   gdap.Request{Command: "initialize"},
		Arguments: gdap.InitializeRequestArguments{AdapterID: "ansibug"},
	}))

	select {
	case msg := <-serverHandler.msgs:
		req, ok := msg.(*gdap.InitializeRequest)
		require.True(t, ok, "expected *dap.InitializeRequest, got %T", msg)
		require.Equal(t, "ansibug", req.Arguments.AdapterID)
	case <-time.After(time.Second):
		t.Fatal("server never received the request")
	}

	require.NoError(t, server.Send(&gdap.InitializeResponse{
		Response: gdap.Response{Command: "initialize", Success: true},
	}))

	select {
	case msg := <-clientHandler.msgs:
		resp, ok := msg.(*gdap.InitializeResponse)
		require.True(t, ok, "expected *dap.InitializeResponse, got %T", msg)
		require.True(t, resp.Success)
	case <-time.After(time.Second):
		t.Fatal("client never received the response")
	}
}

func TestQueueStopCancelsPeer(t *testing.T) {
	client, clientHandler, server, serverHandler := dialedPair(t)

	require.NoError(t, server.Stop())

	// The server's own recvLoop unblocks via its cancellation token rather
	// than a transport error, since Stop cancels before closing.
	select {
	case err := <-serverHandler.closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server ConnectionClosed never fired")
	}

	// The client side has no cancelled token of its own: it only sees its
	// peer's socket disappear, which surfaces as a non-nil transport error.
	select {
	case err := <-clientHandler.closed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("client ConnectionClosed never fired after the server stopped")
	}

	require.NoError(t, client.Stop())
}

func TestListenServerAcceptTimesOutWithoutAPeer(t *testing.T) {
	addr, err := socket.ParseAddress("uds://")
	require.NoError(t, err)

	server, err := mpqueue.ListenServer(addr, nil)
	require.NoError(t, err)
	defer server.Cancel()

	handler := newRecordingHandler()
	err = server.Accept(handler, internaldap.DefaultRegistry(), nil, 100*time.Millisecond)
	require.Error(t, err)
}
