package shared

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var dottedQuad = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// ValidateIPv4 reports whether host is a dotted-quad IPv4 address with every octet in 0-255.
//
// Leading zeros are accepted ("010.0.0.1") and read as decimal.
func ValidateIPv4(host string) error {
	host = strings.TrimSpace(host)
	if !dottedQuad.MatchString(host) {
		return fmt.Errorf("%w: %q, expected xxx.xxx.xxx.xxx", ErrInvalidAddress, host)
	}
	for _, part := range strings.Split(host, ".") {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return fmt.Errorf("%w: octet %q out of range in %q", ErrInvalidAddress, part, host)
		}
	}
	return nil
}

// ValidatePort checks that port lies within [min, max]. A zero bound disables that side of the check.
func ValidatePort(port, min, max int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if min > 0 && port < min {
		return fmt.Errorf("%w: %d must be between %d and %d", ErrInvalidPort, port, min, max)
	}
	if max > 0 && port > max {
		return fmt.Errorf("%w: %d must be between %d and %d", ErrInvalidPort, port, min, max)
	}
	return nil
}

// ListenAddr validates host and port against the server policy and joins them into a dialable address.
func ListenAddr(cfg ServerConfig) (string, error) {
	if err := ValidateIPv4(cfg.Host); err != nil {
		return "", err
	}
	if err := ValidatePort(cfg.Port, cfg.PortMin, cfg.PortMax); err != nil {
		return "", err
	}
	return net.JoinHostPort(normalizeIPv4(cfg.Host), strconv.Itoa(cfg.Port)), nil
}

// normalizeIPv4 strips leading zeros so the address is accepted by the net package.
func normalizeIPv4(host string) string {
	parts := strings.Split(strings.TrimSpace(host), ".")
	for i, p := range parts {
		v, _ := strconv.Atoi(p)
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}
