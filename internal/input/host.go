package input

import (
	"fmt"
	"strconv"
	"strings"
)

// Host holds the network settings of an instance. It is filled from the
// instance spec at creation time and can be overridden per field through
// SetProperty (host, port, listen, ipv6).
type Host struct {
	Name    string
	Address string
	Port    int
	Listen  string
	IPv6    bool
	URI     string
}

// parseNetworkSpec fills h from an instance spec of the form
// "name://host:port/uri". A spec that is exactly the plugin name leaves
// h untouched; host, port and uri are each optional.
func parseNetworkSpec(name, spec string, h *Host) error {
	if len(spec) == len(name) {
		return nil
	}
	rest, ok := strings.CutPrefix(spec[len(name):], "://")
	if !ok {
		return fmt.Errorf("%w: %q", ErrNetworkConfig, spec)
	}

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return fmt.Errorf("%w: unterminated ipv6 address in %q", ErrNetworkConfig, spec)
		}
		h.Name = rest[1:end]
		h.IPv6 = true
		rest = rest[end+1:]
	} else {
		end := strings.IndexAny(rest, ":/")
		if end < 0 {
			end = len(rest)
		}
		if end == 0 {
			return fmt.Errorf("%w: missing host in %q", ErrNetworkConfig, spec)
		}
		h.Name = rest[:end]
		rest = rest[end:]
	}

	if strings.HasPrefix(rest, ":") {
		end := strings.IndexByte(rest, '/')
		if end < 0 {
			end = len(rest)
		}
		port, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return fmt.Errorf("%w: port in %q: %v", ErrNetworkConfig, spec, err)
		}
		h.Port = port
		rest = rest[end:]
	}

	if strings.HasPrefix(rest, "/") {
		h.URI = rest
	} else if rest != "" {
		return fmt.Errorf("%w: trailing %q in %q", ErrNetworkConfig, rest, spec)
	}

	h.Address = h.Name
	return nil
}
