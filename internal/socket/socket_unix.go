//go:build !windows

package socket

import (
	"context"
	"net"
)

// dialUnix and listenUnix back NetworkUnix addresses with a real Unix
// domain socket on every platform except Windows, which gets its own
// named-pipe-backed implementation in socket_windows.go.
func dialUnix(ctx context.Context, dialer *net.Dialer, path string) (net.Conn, error) {
	return dialer.DialContext(ctx, "unix", path)
}

func listenUnix(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}
