// Package announce works out the URL other machines should use to reach the
// server and prints it, optionally as a terminal QR code.
package announce

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/jackpal/gateway"
	"github.com/mdp/qrterminal/v3"
)

// Half-block glyphs for a compact QR code.
const (
	blackBlack = "█"
	blackWhite = "▀"
	whiteBlack = "▄"
	whiteWhite = " "
)

// discovery is swapped out in tests.
type discovery struct {
	iface   func() (net.IP, error)
	gateway func() (net.IP, error)
	addrs   func() ([]net.Addr, error)
}

var system = discovery{
	iface:   gateway.DiscoverInterface,
	gateway: gateway.DiscoverGateway,
	addrs:   net.InterfaceAddrs,
}

// LANAddress returns the IPv4 address of the interface that faces the default
// gateway. Without a gateway it settles for any non-loopback IPv4 address,
// and finally for the loopback address.
func LANAddress() net.IP {
	return system.lanAddress()
}

func (d discovery) lanAddress() net.IP {
	if ip, err := d.iface(); err == nil && usable(ip) {
		return ip.To4()
	}
	addrs, err := d.addrs()
	if err != nil {
		return net.IPv4(127, 0, 0, 1).To4()
	}
	if gw, err := d.gateway(); err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if ok && usable(ipnet.IP) && ipnet.Contains(gw) {
				return ipnet.IP.To4()
			}
		}
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && usable(ipnet.IP) {
			return ipnet.IP.To4()
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

func usable(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4.IsGlobalUnicast() && !ip4.IsLoopback()
}

// Host picks the host to advertise for a bind address. Wildcard binds are
// advertised with the LAN address.
func Host(bindHost string) string {
	switch bindHost {
	case "", "0.0.0.0", "::", "[::]":
		return LANAddress().String()
	}
	return strings.Trim(bindHost, "[]")
}

// URL joins host, port and an already escaped path.
func URL(host string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

// Print writes the headline and URL to w, followed by a QR code of the URL
// when qr is set.
func Print(w io.Writer, headline, url string, qr bool) {
	fmt.Fprintf(w, "%s\n  %s\n", headline, url)
	if !qr {
		return
	}
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      blackBlack,
		BlackWhiteChar: blackWhite,
		WhiteBlackChar: whiteBlack,
		WhiteChar:      whiteWhite,
		QuietZone:      1,
	})
}
