package net

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service mask servers announce.
const ServiceType = "_maskboard._tcp"

// Advertise announces a mask server listening on port. Shut the returned
// server down to withdraw the announcement.
func Advertise(port int, imageName string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	info := []string{"MaskBoard", "image=" + imageName}

	service, err := mdns.NewMDNSService(
		host,        // instance name
		ServiceType, // service type
		"",          // domain, defaults to .local
		"",          // host name, defaults to the OS host name
		port,
		nil, // IPs, auto-detected
		info,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse looks for a mask server on the local network and returns the
// first host:port found within timeout.
func Browse(timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan string, 1)
	go func() {
		for e := range entries {
			if addr := entryAddr(e); addr != "" {
				select {
				case found <- addr:
				default:
				}
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	if err != nil {
		return "", fmt.Errorf("mDNS lookup: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	case <-time.After(100 * time.Millisecond):
		return "", fmt.Errorf("no %s service found within %s", ServiceType, timeout)
	}
}

func entryAddr(e *mdns.ServiceEntry) string {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return ""
	}
	return net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port))
}
