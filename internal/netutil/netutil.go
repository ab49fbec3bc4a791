// Package netutil resolves the host's LAN address and the broadcast
// destinations used by presence discovery.
package netutil

import (
	"net"
)

// Loopback is reported when no LAN address can be found.
const Loopback = "127.0.0.1"

// FallbackBroadcasts are common private-network broadcast addresses used when
// the real topology is unknown.
var FallbackBroadcasts = []string{
	"192.168.1.255",
	"192.168.0.255",
	"192.168.123.255",
	"10.0.0.255",
	"172.16.0.255",
}

// LocalIPv4 returns the host's preferred non-loopback IPv4 address.
// The UDP dial only selects a route, nothing is sent.
func LocalIPv4() string {
	if conn, err := net.Dial("udp4", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}
	if nets := interfaceNets(); len(nets) > 0 {
		return nets[0].IP.String()
	}
	return Loopback
}

// SubnetBroadcast derives the broadcast address of ip assuming a /24 subnet.
func SubnetBroadcast(ip string) (net.IP, bool) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil || parsed.IsLoopback() {
		return nil, false
	}
	return net.IPv4(parsed[0], parsed[1], parsed[2], 255).To4(), true
}

// InterfaceBroadcasts lists the directed broadcast address of every up,
// non-loopback IPv4 interface, using the interface's real netmask.
func InterfaceBroadcasts() []net.IP {
	var out []net.IP
	for _, n := range interfaceNets() {
		ip := n.IP.To4()
		mask := n.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		if len(mask) != net.IPv4len {
			continue
		}
		bcast := make(net.IP, net.IPv4len)
		for i := range ip {
			bcast[i] = ip[i] | ^mask[i]
		}
		out = append(out, bcast)
	}
	return out
}

// BroadcastTargets computes the destinations for one announcement cycle:
// the /24 broadcast of localIP, every interface broadcast, the fallback list
// and the extra (seed) targets, without duplicates. The limited broadcast
// address is used only when nothing else could be computed.
func BroadcastTargets(localIP string, port int, extra []*net.UDPAddr) []*net.UDPAddr {
	seen := make(map[string]bool)
	var targets []*net.UDPAddr
	add := func(ip net.IP, p int) {
		key := (&net.UDPAddr{IP: ip, Port: p}).String()
		if seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, &net.UDPAddr{IP: ip, Port: p})
	}

	if ip, ok := SubnetBroadcast(localIP); ok {
		add(ip, port)
	}
	for _, ip := range InterfaceBroadcasts() {
		add(ip, port)
	}
	for _, s := range FallbackBroadcasts {
		if ip := net.ParseIP(s).To4(); ip != nil {
			add(ip, port)
		}
	}
	for _, addr := range extra {
		if addr != nil {
			add(addr.IP, addr.Port)
		}
	}
	if len(targets) == 0 {
		add(net.IPv4bcast, port)
	}
	return targets
}

func interfaceNets() []*net.IPNet {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil || ipNet.IP.IsLoopback() {
				continue
			}
			out = append(out, ipNet)
		}
	}
	return out
}
