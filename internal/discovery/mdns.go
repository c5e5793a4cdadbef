// Package discovery advertises a relay on the local network over mDNS and
// finds advertised relays.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service a relay advertises.
const ServiceType = "_drawingboard._tcp"

// ErrNotFound is returned when no relay answered before the timeout.
var ErrNotFound = errors.New("discovery: no relay found")

// Advertise announces a relay listening on port. Shut the returned server
// down to withdraw it.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, []string{"drawing-board relay"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse collects relay websocket URLs answering within timeout.
func Browse(timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan []string, 1)
	go func() {
		var urls []string
		seen := make(map[string]bool)
		for e := range entries {
			if u, ok := relayURL(e); ok && !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
		found <- urls
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	urls := <-found
	if err != nil {
		return urls, fmt.Errorf("discovery: query: %w", err)
	}
	return urls, nil
}

// First returns the first relay found within timeout.
func First(timeout time.Duration) (string, error) {
	urls, err := Browse(timeout)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNotFound
	}
	return urls[0], nil
}

func relayURL(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	return fmt.Sprintf("ws://%s:%d/ws", e.AddrV4.String(), e.Port), true
}
