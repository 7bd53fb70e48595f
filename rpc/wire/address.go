package wire

import (
	"fmt"
	"net"
	"strings"
)

// IsUnixSocketPath reports whether address names a local stream socket
// path rather than a host:port pair, per spec.md §6: a leading '/' or
// './'.
func IsUnixSocketPath(address string) bool {
	return strings.HasPrefix(address, "/") || strings.HasPrefix(address, "./")
}

// SplitHostPort splits a non-Unix address at its *last* colon and resolves
// the host via the platform resolver, using the first result, exactly as
// spec.md §6 specifies.
//
// Bracketed IPv6 hosts are not accepted: "[::1]:8080" keeps the brackets
// in the host and its resolution fails. A bare literal with a port, such
// as "::1:8080", splits into host "::1" and port "8080"; a bare IPv6
// literal with no port is split at one of its own colons instead of being
// rejected.
func SplitHostPort(address string) (host string, port string, err error) {
	i := strings.LastIndex(address, ":")
	if i < 0 {
		return "", "", fmt.Errorf("address %q must end with a colon followed by a port number", address)
	}
	host, port = address[:i], address[i+1:]

	ips, err := net.LookupHost(host)
	if err != nil {
		return "", "", fmt.Errorf("could not resolve host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return "", "", fmt.Errorf("could not resolve host %q: no addresses returned", host)
	}
	return ips[0], port, nil
}

// ResolveAddress turns a spec.md §6 address string into a Go network/addr
// pair suitable for net.Dial / net.Listen: ("unix", path) for a local
// stream socket, or ("tcp", host:port) otherwise, with host resolution
// applied synchronously and blocking, as the original does during bind.
func ResolveAddress(address string) (network, resolved string, err error) {
	if IsUnixSocketPath(address) {
		return "unix", address, nil
	}
	host, port, err := SplitHostPort(address)
	if err != nil {
		return "", "", err
	}
	return "tcp", net.JoinHostPort(host, port), nil
}
