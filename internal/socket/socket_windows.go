//go:build windows

package socket

import (
	"context"
	"net"
	"path/filepath"
	"strings"

	winio "github.com/Microsoft/go-winio"
)

// dialUnix and listenUnix back NetworkUnix addresses with a named pipe on
// Windows, which has no general-purpose Unix domain socket support on the
// older builds ansible-playbook's own supported platforms still run.
// Grounded on docker-buildx/driver/remote/util/dialer_windows.go's
// winio.DialPipeContext usage; ListenPipe is the matching accept-side call.
func dialUnix(ctx context.Context, _ *net.Dialer, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, pipeName(path))
}

func listenUnix(path string) (net.Listener, error) {
	return winio.ListenPipe(pipeName(path), nil)
}

// pipeName maps a uds:// filesystem path to the \\.\pipe\<name> form named
// pipes require, using the path's base name so two auto-generated paths
// under the same temp dir still resolve to distinct pipes.
func pipeName(path string) string {
	if strings.HasPrefix(path, `\\.\pipe\`) {
		return path
	}
	name := filepath.Base(path)
	return `\\.\pipe\` + name
}
