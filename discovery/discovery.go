// Package discovery advertises the control plane over mDNS and lets agents
// find it without a configured address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service the control plane registers.
	ServiceType = "_controlplane._tcp"
	Domain      = "local."

	DefaultLookupTimeout = 3 * time.Second
)

var ErrNotFound = errors.New("no control plane found")

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance on port. Extra key=value TXT records may be
// passed in txt.
func Advertise(instance string, port int, txt map[string]string) (*Advertisement, error) {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// PortFromListen extracts the port from a listen address such as
// "0.0.0.0:50051".
func PortFromListen(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// Lookup browses for a control plane until one with a usable address is
// found or timeout elapses, and returns its host:port.
func Lookup(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if addr, ok := Address(entry); ok {
				select {
				case found <- addr:
					cancel()
				default:
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse services: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	case <-ctx.Done():
	}
	select {
	case addr := <-found:
		return addr, nil
	default:
		return "", ErrNotFound
	}
}

// Address picks a dialable host:port from entry. IPv4 is preferred and
// link-local addresses are skipped.
func Address(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	for _, ip := range entry.AddrIPv4 {
		if !ip.IsLinkLocalUnicast() {
			return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if !ip.IsLinkLocalUnicast() {
			return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
		}
	}
	if host := strings.TrimSuffix(entry.HostName, "."); host != "" {
		return net.JoinHostPort(host, strconv.Itoa(entry.Port)), true
	}
	return "", false
}
