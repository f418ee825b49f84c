package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Protocol selects the delivery strategy.
type Protocol string

const (
	// Stream is reliable, ordered delivery over TCP.
	Stream Protocol = "tcp"
	// Datagram is a single unreliable UDP datagram per message.
	Datagram Protocol = "udp"
)

// Destination is where captures are sent.
type Destination struct {
	Host     string
	Port     int
	Protocol Protocol
}

// Address returns host:port.
func (d Destination) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// String returns the destination in "proto://host:port" form.
func (d Destination) String() string {
	return string(d.Protocol) + "://" + d.Address()
}

// Validate checks the host, port and protocol.
func (d Destination) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("destination %q: empty host", d.String())
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("destination %q: port %d out of range", d.String(), d.Port)
	}
	switch d.Protocol {
	case Stream, Datagram:
		return nil
	default:
		return fmt.Errorf("destination %q: unsupported protocol %q", d.String(), d.Protocol)
	}
}

// ParseDestination parses "tcp://host:port" or "udp://host:port". A bare
// "host:port" defaults to tcp.
func ParseDestination(s string) (Destination, error) {
	if !strings.Contains(s, "://") {
		s = string(Stream) + "://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return Destination{}, fmt.Errorf("parse destination %q: unexpected path %q", s, u.Path)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: invalid port %q", s, u.Port())
	}
	d := Destination{Host: u.Hostname(), Port: port, Protocol: Protocol(strings.ToLower(u.Scheme))}
	if err := d.Validate(); err != nil {
		return Destination{}, err
	}
	return d, nil
}
