package target

import (
	"fmt"
	"strconv"
	"strings"
)

const maxPort = 65535

// ParsePorts parses a port specification into an ordered set of
// distinct ports. Entries are comma-separated; each entry is a single
// port or an inclusive lo-hi range ("80,443,8000-8010"). Duplicates
// collapse to their first occurrence, preserving order.
func ParsePorts(spec string) ([]uint16, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty port specification")
	}

	seen := make(map[uint16]bool)
	var ports []uint16
	add := func(p uint16) {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, fmt.Errorf("empty entry in port specification %q", spec)
		}

		if lo, hi, isRange := strings.Cut(entry, "-"); isRange {
			start, err := parsePort(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", entry, err)
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", entry, err)
			}
			if end < start {
				return nil, fmt.Errorf("port range %q is reversed", entry)
			}
			for p := int(start); p <= int(end); p++ {
				add(uint16(p))
			}
			continue
		}

		p, err := parsePort(entry)
		if err != nil {
			return nil, err
		}
		add(p)
	}

	return ports, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > maxPort {
		return 0, fmt.Errorf("port %d out of range 1-%d", n, maxPort)
	}
	return uint16(n), nil
}
