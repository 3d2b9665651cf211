package reactor

import (
	"context"
	"fmt"
	"net"
	"runtime"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// MulticastSocket wraps the platform-appropriate packet connection for the
// SD multicast group, abstracting over IPv4/IPv6 the way spec.md §4.5
// requires ("join the group on the chosen interface").
type MulticastSocket struct {
	conn     net.PacketConn
	v4       *ipv4.PacketConn
	v6       *ipv6.PacketConn
	isV6     bool
	GroupKey string
}

// OpenMulticast implements spec.md §4.5's "Multicast socket setup
// invariant": set address-reuse *before* bind; bind to the wildcard
// address on Windows, to the multicast address on POSIX; join the group on
// iface. An empty or unparsable group is an error; New applies the
// sd.DefaultMulticastGroup/Port defaults before calling it.
func OpenMulticast(group string, port int, iface *net.Interface) (*MulticastSocket, error) {
	ip := net.ParseIP(group)
	if ip == nil {
		return nil, fmt.Errorf("someip/reactor: invalid multicast group %q", group)
	}
	isV6 := ip.To4() == nil

	bindAddr := fmt.Sprintf("%s:%d", group, port)
	if runtime.GOOS == "windows" {
		if isV6 {
			bindAddr = fmt.Sprintf("[::]:%d", port)
		} else {
			bindAddr = fmt.Sprintf("0.0.0.0:%d", port)
		}
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	network := "udp4"
	if isV6 {
		network = "udp6"
	}

	conn, err := lc.ListenPacket(context.Background(), network, bindAddr)
	if err != nil {
		return nil, fmt.Errorf("someip/reactor: listen multicast on %s: %w", bindAddr, err)
	}

	ms := &MulticastSocket{conn: conn, isV6: isV6, GroupKey: fmt.Sprintf("%s:%d", group, port)}

	groupAddr := &net.UDPAddr{IP: ip, Port: port}
	if isV6 {
		ms.v6 = ipv6.NewPacketConn(conn)
		if err := ms.v6.JoinGroup(iface, groupAddr); err != nil {
			conn.Close()
			return nil, fmt.Errorf("someip/reactor: join multicast group %s: %w", group, err)
		}
	} else {
		ms.v4 = ipv4.NewPacketConn(conn)
		if err := ms.v4.JoinGroup(iface, groupAddr); err != nil {
			conn.Close()
			return nil, fmt.Errorf("someip/reactor: join multicast group %s: %w", group, err)
		}
	}
	return ms, nil
}

// PacketConn exposes the underlying net.PacketConn for reading/writing.
func (m *MulticastSocket) PacketConn() net.PacketConn {
	return m.conn
}

// Close leaves the multicast group and closes the socket.
func (m *MulticastSocket) Close() error {
	return m.conn.Close()
}

// OpenUnicast opens a plain UDP socket for request/response and event
// traffic at addr ("host:port", or ":0" for an ephemeral port).
func OpenUnicast(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("someip/reactor: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("someip/reactor: listen %s: %w", addr, err)
	}
	return conn, nil
}
