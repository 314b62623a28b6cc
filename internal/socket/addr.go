package socket

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Network identifies the transport an Address resolves to.
type Network string

const (
	NetworkTCP  Network = "tcp"
	NetworkUnix Network = "unix"
)

// Address is a parsed connection endpoint: tcp://host:port (IPv6 hosts
// bracketed), tcp://:port (bind-all), uds://path (absolute or relative to
// a temp dir), or uds:// (auto-generated path under the temp dir).
type Address struct {
	Network Network
	// Host/Port are populated for NetworkTCP. Host is empty for a
	// bind-all address.
	Host string
	Port string
	// Path is populated for NetworkUnix.
	Path string
}

func (a Address) String() string {
	switch a.Network {
	case NetworkTCP:
		return fmt.Sprintf("tcp://%s:%s", a.Host, a.Port)
	case NetworkUnix:
		return fmt.Sprintf("uds://%s", a.Path)
	default:
		return ""
	}
}

// DialString returns the string net.Dial/net.Listen expect for this
// address's network.
func (a Address) DialString() string {
	switch a.Network {
	case NetworkTCP:
		return a.Host + ":" + a.Port
	case NetworkUnix:
		return a.Path
	default:
		return ""
	}
}

// ParseAddress parses the addressing scheme spec.md §4.2/§6.3 describes.
func ParseAddress(s string) (Address, error) {
	switch {
	case strings.HasPrefix(s, "tcp://"):
		rest := strings.TrimPrefix(s, "tcp://")
		host, port, err := splitHostPort(rest)
		if err != nil {
			return Address{}, errors.Wrapf(err, "socket: parse tcp address %q", s)
		}
		return Address{Network: NetworkTCP, Host: host, Port: port}, nil

	case strings.HasPrefix(s, "uds://"):
		path := strings.TrimPrefix(s, "uds://")
		if path == "" {
			p, err := autoUnixPath()
			if err != nil {
				return Address{}, errors.Wrap(err, "socket: generate uds auto path")
			}
			return Address{Network: NetworkUnix, Path: p}, nil
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(tempDir(), path)
		}
		return Address{Network: NetworkUnix, Path: path}, nil

	default:
		return Address{}, errors.Errorf("socket: unsupported address scheme %q", s)
	}
}

func splitHostPort(rest string) (host, port string, err error) {
	if strings.HasPrefix(rest, "[") {
		// Bracketed IPv6 host: [::1]:1234
		end := strings.Index(rest, "]")
		if end < 0 {
			return "", "", errors.New("unterminated '[' in IPv6 host")
		}
		host = rest[1:end]
		remainder := rest[end+1:]
		if !strings.HasPrefix(remainder, ":") {
			return "", "", errors.New("missing port after IPv6 host")
		}
		return host, remainder[1:], nil
	}

	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return "", "", errors.New("missing ':port'")
	}
	return rest[:idx], rest[idx+1:], nil
}

func tempDir() string {
	if d := os.Getenv("TMPDIR"); d != "" {
		return d
	}
	return os.TempDir()
}

func autoUnixPath() (string, error) {
	return filepath.Join(tempDir(), "ansibug-"+uuid.NewString()+".sock"), nil
}
