package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the well-known TCP port clients connect to when a URI
// omits one (spec §6.2).
const DefaultPort = 44630

// UnixSocketDir is where the server creates its pathname sockets
// (mode 0777, spec §6.2), and where a `unix:N` URI's integer index
// resolves to.
const UnixSocketDir = "/tmp/.obos-aud"

// ParseURI resolves a connection URI (`tcp:HOST[:PORT]` or
// `unix:PATH_OR_INDEX`, spec §6.2) into a (network, address) pair
// suitable for net.Dial/net.Listen.
func ParseURI(uri string) (network, address string, err error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return "", "", fmt.Errorf("wire: malformed URI %q: missing scheme", uri)
	}

	switch scheme {
	case "tcp":
		if rest == "" {
			return "", "", fmt.Errorf("wire: malformed tcp URI %q: missing host", uri)
		}
		if !strings.Contains(rest, ":") {
			rest = fmt.Sprintf("%s:%d", rest, DefaultPort)
		}
		return "tcp", rest, nil

	case "unix":
		if rest == "" {
			return "", "", fmt.Errorf("wire: malformed unix URI %q: missing path", uri)
		}
		if n, convErr := strconv.Atoi(rest); convErr == nil {
			return "unix", UnixSocketPath(n), nil
		}
		return "unix", rest, nil

	default:
		return "", "", fmt.Errorf("wire: unknown URI scheme %q", scheme)
	}
}

// UnixSocketPath renders the pathname socket for unix listen index n.
func UnixSocketPath(n int) string {
	return fmt.Sprintf("%s/U%d", UnixSocketDir, n)
}
