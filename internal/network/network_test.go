package network

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt2serial/internal/config"
	"mqtt2serial/internal/logger"
)

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

var (
	loopback = Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipNet("127.0.0.1/8")}}
	wlanDown = Interface{Name: "wlan0", Flags: 0, Addrs: []net.Addr{ipNet("192.168.1.20/24")}}
	wlanUp   = Interface{Name: "wlan0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("fe80::1/64"), ipNet("192.168.1.20/24")}}
	eth      = Interface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("10.0.0.5/8")}}
	linkOnly = Interface{Name: "usb0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("169.254.3.4/16")}}
)

func TestFindLinkIP(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []Interface
		filter string
		want   string
		ok     bool
	}{
		{"loopback only", []Interface{loopback}, "", "", false},
		{"interface down", []Interface{loopback, wlanDown}, "", "", false},
		{"link local ignored", []Interface{linkOnly}, "", "", false},
		{"skips ipv6", []Interface{loopback, wlanUp}, "", "192.168.1.20", true},
		{"first match", []Interface{eth, wlanUp}, "", "10.0.0.5", true},
		{"named interface", []Interface{eth, wlanUp}, "wlan0", "192.168.1.20", true},
		{"named interface missing", []Interface{eth}, "wlan0", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, ok := FindLinkIP(tt.ifaces, tt.filter)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, link.IP.String())
			}
		})
	}
}

func TestJoinWaitsForLink(t *testing.T) {
	var calls atomic.Int32
	list := func() ([]Interface, error) {
		if calls.Add(1) < 3 {
			return []Interface{loopback, wlanDown}, nil
		}
		return []Interface{loopback, wlanUp}, nil
	}

	link, err := Join(context.Background(), logger.Discard(), config.WiFiConf{
		SSID:        "home",
		JoinTimeout: config.Duration{Duration: 5 * time.Second},
	}, list)

	require.NoError(t, err)
	assert.Equal(t, "wlan0", link.Interface)
	assert.Equal(t, "192.168.1.20", link.IP.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestJoinTimeout(t *testing.T) {
	list := func() ([]Interface, error) { return []Interface{loopback}, nil }

	_, err := Join(context.Background(), logger.Discard(), config.WiFiConf{
		JoinTimeout: config.Duration{Duration: 10 * time.Millisecond},
	}, list)

	assert.ErrorIs(t, err, ErrNoLink)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJoinListError(t *testing.T) {
	boom := errors.New("netlink")
	list := func() ([]Interface, error) { return nil, boom }

	_, err := Join(context.Background(), logger.Discard(), config.WiFiConf{}, list)
	assert.ErrorIs(t, err, boom)
}
