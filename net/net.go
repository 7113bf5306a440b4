package net

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

// StripPort returns the host part of a host:port pair, or the input
// when it has no port.
func StripPort(hostport string) string {
	return stripPort(hostport)
}

// PeerAddr returns the address of the directly connected peer.
func PeerAddr(r *http.Request) netip.Addr {
	addr, _ := netip.ParseAddr(stripPort(r.RemoteAddr))
	return addr.Unmap()
}

// RemoteAddr returns the remote address of the client. When the
// 'X-Forwarded-For' header is set, then it is used instead. This is
// how most often proxies behave. Wikipedia shows the format
// https://en.wikipedia.org/wiki/X-Forwarded-For#Format
//
// Example:
//
//	X-Forwarded-For: client, proxy1, proxy2
func RemoteAddr(r *http.Request) netip.Addr {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		s, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(stripPort(strings.TrimSpace(s))); err == nil {
			return addr.Unmap()
		}
	}
	return PeerAddr(r)
}

// RemoteAddrFromLast returns the remote address of the client. When
// the 'X-Forwarded-For' header is set, then its last entry is used
// instead. This is known to be true for AWS Application LoadBalancer.
// AWS docs
// https://docs.aws.amazon.com/elasticloadbalancing/latest/classic/x-forwarded-headers.html
//
// Example:
//
//	X-Forwarded-For: ip-address-1, ip-address-2, client-ip-address
func RemoteAddrFromLast(r *http.Request) netip.Addr {
	ffs := r.Header.Get("X-Forwarded-For")
	if ffs == "" {
		return PeerAddr(r)
	}

	last := ffs
	if i := strings.LastIndex(ffs, ","); i != -1 {
		last = ffs[i+1:]
	}

	addr, err := netip.ParseAddr(stripPort(strings.TrimSpace(last)))
	if err != nil {
		return PeerAddr(r)
	}
	return addr.Unmap()
}

// TrustedRemoteAddr only honors 'X-Forwarded-For' when the connected
// peer is a trusted proxy. It walks the header from the right and
// returns the first address that is not a trusted proxy, so clients
// cannot spoof their address by prepending entries.
func TrustedRemoteAddr(r *http.Request, trusted *netipx.IPSet) netip.Addr {
	peer := PeerAddr(r)
	if trusted == nil || !trusted.Contains(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(stripPort(strings.TrimSpace(hops[i])))
		if err != nil {
			break
		}

		addr = addr.Unmap()
		if !trusted.Contains(addr) {
			return addr
		}
		peer = addr
	}

	return peer
}

// ParseIPCIDRs returns a valid IPSet even in case there are parsing
// errors of some partial provided input cidrs. So recently added
// bogus values can be logged and ignored at runtime.
func ParseIPCIDRs(cidrs []string) (*netipx.IPSet, error) {
	var (
		b   netipx.IPSetBuilder
		err error
	)

	for _, w := range cidrs {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}

		if strings.Contains(w, "/") {
			if pref, e := netip.ParsePrefix(w); e != nil {
				err = e
			} else {
				b.AddPrefix(pref)
			}
		} else if addr, e := netip.ParseAddr(w); e != nil {
			err = e
		} else {
			b.Add(addr)
		}
	}

	ips, e := b.IPSet()
	if e != nil {
		return ips, e
	}

	return ips, err
}
