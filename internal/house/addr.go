package house

import (
	"net"
)

// AdvertisedHost picks the address a house publishes to the bank.
// A configured override wins. When the house binds a wildcard address,
// the first non-loopback, non-link-local IPv4 interface address is
// used; loopback is the last resort so single-machine setups still
// work.
func AdvertisedHost(override, boundHost string) string {
	if override != "" {
		return override
	}
	if boundHost != "" {
		if ip := net.ParseIP(boundHost); ip != nil && !ip.IsUnspecified() {
			return boundHost
		}
		if net.ParseIP(boundHost) == nil {
			// A hostname was bound; advertise it as-is.
			return boundHost
		}
	}
	if ip := routableIPv4(); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

func routableIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}
