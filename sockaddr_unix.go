//go:build darwin || freebsd || linux

package sockfd

import (
	"net"
	"net/netip"

	"github.com/database64128/netx-go"
	"golang.org/x/sys/unix"
)

// unixSockaddrFromAddrPort converts addrPort to a sockaddr for a socket of the given family.
// IPv4 addresses are mapped for AF_INET6 sockets.
func unixSockaddrFromAddrPort(addrPort netip.AddrPort, family int) (unix.Sockaddr, error) {
	ip := addrPort.Addr()
	switch family {
	case unix.AF_INET:
		if !ip.IsValid() {
			ip = netip.IPv4Unspecified()
		}
		ip = ip.Unmap()
		if !ip.Is4() {
			return nil, &net.AddrError{Err: "non-IPv4 address", Addr: ip.String()}
		}
		return &unix.SockaddrInet4{
			Port: int(addrPort.Port()),
			Addr: ip.As4(),
		}, nil
	case unix.AF_INET6:
		if !ip.IsValid() || ip == netip.IPv4Unspecified() {
			ip = netip.IPv6Unspecified()
		}
		return &unix.SockaddrInet6{
			Port:   int(addrPort.Port()),
			ZoneId: uint32(netx.ZoneCache.Index(ip.Zone())),
			Addr:   ip.As16(),
		}, nil
	}
	return nil, &net.AddrError{Err: "invalid address family", Addr: ip.String()}
}

func addrPortFromUnixSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			ip = ip.WithZone(netx.ZoneCache.Name(int(sa.ZoneId)))
		}
		return netip.AddrPortFrom(ip, uint16(sa.Port))
	}
	return netip.AddrPort{}
}
