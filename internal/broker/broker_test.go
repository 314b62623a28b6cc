package broker_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/jborean93/ansibug/internal/broker"
	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/socket"
	"github.com/jborean93/ansibug/util/daptest"
)

// fakeDebuggee stands in for the real internal/controller-backed debuggee
// process: it answers every request it receives with a bare success
// response under the same command, the way controller_test.go's fakes
// stand in for the strategy engine on the other side of that package
// boundary. Reading f.server.Queue rather than caching it locally is safe
// without extra synchronization: mpqueue.ServerQueue.Accept assigns it
// before starting the receive goroutine that can ever call OnMsgReceived.
type fakeDebuggee struct {
	t      *testing.T
	server *mpqueue.ServerQueue
}

func (f *fakeDebuggee) ConnectionMade()        {}
func (f *fakeDebuggee) ConnectionClosed(error) {}

func (f *fakeDebuggee) OnMsgReceived(msg dap.Message) {
	command, ok := internaldap.CommandOf(msg)
	if !ok {
		return
	}
	resp := internaldap.NewErrorResponse(internaldap.SeqOf(msg), command, "")
	resp.Success = true
	if err := f.server.Queue.Send(resp); err != nil {
		f.t.Logf("fakeDebuggee: send response: %v", err)
	}
}

// newBrokerHarness wires a broker over in-memory pipes to a daptest.Client
// standing in for the IDE, and a fakeDebuggee standing in for the
// controller-backed debuggee process, reachable through a real
// internal/mpqueue listener exactly the way Attach dials one in production.
func newBrokerHarness(t *testing.T) (*daptest.Client, socket.Address) {
	t.Helper()

	addr, err := socket.ParseAddress("uds://")
	require.NoError(t, err)

	server, err := mpqueue.ListenServer(addr, nil)
	require.NoError(t, err)

	debuggee := &fakeDebuggee{t: t, server: server}
	go func() {
		if err := server.Accept(debuggee, internaldap.DefaultRegistry(), nil, 5*time.Second); err != nil {
			t.Logf("fakeDebuggee: accept: %v", err)
		}
	}()

	clientToBroker, brokerFromClient := io.Pipe()
	brokerToClient, clientFromBroker := io.Pipe()
	registry := internaldap.DefaultRegistry()

	brokerConn := internaldap.NewConn(brokerFromClient, brokerToClient, registry)
	clientConn := internaldap.NewConn(clientFromBroker, clientToBroker, registry)

	b := broker.New(brokerConn)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(cancel)

	client := daptest.NewClient(daptest.LogConn(t, "client", clientConn))
	t.Cleanup(func() { _ = client.Close() })

	return client, addr
}

func TestBrokerInitializeAttachForwardDisconnect(t *testing.T) {
	client, addr := newBrokerHarness(t)

	initResp := <-daptest.DoRequest[*dap.InitializeResponse](t, client, &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
	})
	require.NotNil(t, initResp)
	require.True(t, initResp.Success)

	attachArgs, err := json.Marshal(broker.AttachArguments{Address: addr.String()})
	require.NoError(t, err)

	attachResp := <-daptest.DoRequest[*dap.AttachResponse](t, client, &dap.AttachRequest{
		Request:   dap.Request{Command: "attach"},
		Arguments: attachArgs,
	})
	require.NotNil(t, attachResp)
	require.True(t, attachResp.Success)

	// A request the broker does not handle locally is forwarded verbatim
	// and the fakeDebuggee's bare success response is relayed back.
	threadsResp := <-daptest.DoRequest[*dap.ThreadsResponse](t, client, &dap.ThreadsRequest{
		Request: dap.Request{Command: "threads"},
	})
	require.NotNil(t, threadsResp)
	require.True(t, threadsResp.Success)

	terminated := make(chan struct{}, 1)
	client.RegisterEvent("terminated", func(dap.EventMessage) {
		select {
		case terminated <- struct{}{}:
		default:
		}
	})

	disconnectResp := <-daptest.DoRequest[*dap.DisconnectResponse](t, client, &dap.DisconnectRequest{
		Request: dap.Request{Command: "disconnect"},
	})
	require.NotNil(t, disconnectResp)
	require.True(t, disconnectResp.Success)

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("broker never emitted TerminatedEvent after Disconnect")
	}
}

func TestBrokerForwardWithoutDebuggeeIsError(t *testing.T) {
	client, _ := newBrokerHarness(t)

	initResp := <-daptest.DoRequest[*dap.InitializeResponse](t, client, &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
	})
	require.NotNil(t, initResp)

	// No Attach/Launch has happened yet, so a forwarded request must come
	// back as an ErrorResponse rather than hang.
	resp := <-client.Do(t, &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}})
	require.NotNil(t, resp)
	require.False(t, resp.GetResponse().GetResponse().Success)
}
