// Package network waits for the host to have a usable link before the
// broker is dialled. Association with the access point (SSID, passphrase)
// is done by the OS supplicant; Join only observes the result.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"mqtt2serial/internal/config"
	"mqtt2serial/internal/logger"
)

const pollInterval = 500 * time.Millisecond

// ErrNoLink is returned when no usable address appeared before the timeout.
var ErrNoLink = errors.New("network: no usable link")

// Link is an established network link.
type Link struct {
	Interface string
	IP        net.IP
}

// Interface is the subset of net.Interface Join needs.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// InterfacesFunc lists the host interfaces with their addresses.
type InterfacesFunc func() ([]Interface, error)

// SystemInterfaces reads the host interfaces.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("error getting ips of %s: %w", iface.Name, err)
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// FindLinkIP returns the first up, non-loopback interface with an IPv4
// address. A non-empty name restricts the search to that interface.
func FindLinkIP(ifaces []Interface, name string) (Link, bool) {
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			return Link{Interface: iface.Name, IP: ip}, true
		}
	}
	return Link{}, false
}

// Join blocks until a link is up or cfg.JoinTimeout elapses.
func Join(ctx context.Context, log logger.Logger, cfg config.WiFiConf, list InterfacesFunc) (Link, error) {
	if list == nil {
		list = SystemInterfaces
	}

	l := log.With(logger.Fields{"module": "network"})
	if cfg.SSID != "" {
		l.Infof("waiting for link on network %q", cfg.SSID)
	}

	if cfg.JoinTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.JoinTimeout.Duration)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ifaces, err := list()
		if err != nil {
			return Link{}, err
		}
		if link, ok := FindLinkIP(ifaces, cfg.Interface); ok {
			l.Infof("link up: %s %s", link.Interface, link.IP)
			return link, nil
		}

		select {
		case <-ctx.Done():
			return Link{}, fmt.Errorf("%w: %w", ErrNoLink, ctx.Err())
		case <-ticker.C:
		}
	}
}
