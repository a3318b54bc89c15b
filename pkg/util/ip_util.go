package util

import (
	"fmt"
	"net"
	"regexp"
)

var cidrRe = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}/([0-9]|[1-2][0-9]|3[0-2])$`)

// CheckValidCidr reports whether s looks like an IPv4 CIDR address,
// e.g. 10.0.0.1/24.
func CheckValidCidr(s string) bool {
	if !cidrRe.MatchString(s) {
		return false
	}
	ip, _, err := net.ParseCIDR(s)
	return err == nil && ip.To4() != nil
}

// GatewayAddr returns the first usable address of subnet in CIDR form,
// e.g. 10.10.0.0/24 -> 10.10.0.1/24. This is the address the NAT
// bridge itself carries.
func GatewayAddr(subnet string) (string, error) {
	addr, _, err := hostAddr(subnet, 0)
	return addr, err
}

// HostAddr returns the address with the given final octet on subnet,
// in CIDR form. last must be a usable host octet (not the network or
// broadcast address).
func HostAddr(subnet string, last int) (string, error) {
	if last < 1 || last > 254 {
		return "", fmt.Errorf("host octet %d out of range for %s", last, subnet)
	}
	addr, _, err := hostAddr(subnet, last-1)
	return addr, err
}

// GatewayIP returns the bare first-usable IP of subnet, used as the
// default-route gateway for nodes attached to a bridge.
func GatewayIP(subnet string) (net.IP, error) {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	gw := make(net.IP, len(ipNet.IP.To4()))
	copy(gw, ipNet.IP.To4())
	gw[len(gw)-1] |= 1
	return gw, nil
}

func hostAddr(subnet string, offset int) (string, int, error) {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", 0, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return "", 0, fmt.Errorf("subnet %q is not IPv4", subnet)
	}
	host := make(net.IP, len(ip4))
	copy(host, ip4)
	last := int(host[3]) + 1 + offset
	if last > 255 {
		return "", 0, fmt.Errorf("host octet overflow on %s", subnet)
	}
	host[3] = byte(last)
	ones, _ := ipNet.Mask.Size()
	return fmt.Sprintf("%s/%d", host, ones), last, nil
}
