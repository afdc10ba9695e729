package safety

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ValidateURL parses raw and checks it against the outbound fetch policy:
// http(s) only, a host is required, and unless allowPrivate is set the host
// must not be a loopback, private, link-local or unspecified address.
func ValidateURL(raw string, allowPrivate bool) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ToolError{Code: "ERR_URL_INVALID", Message: "url does not parse"}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ToolError{Code: "ERR_URL_SCHEME", Message: fmt.Sprintf("scheme %q is not allowed; use http or https", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return nil, ToolError{Code: "ERR_URL_INVALID", Message: "url has no host"}
	}
	if allowPrivate {
		return u, nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, ToolError{Code: "ERR_URL_PRIVATE", Message: "local addresses are not allowed"}
	}
	if addr, err := netip.ParseAddr(host); err == nil && !IsPublicAddr(addr) {
		return nil, ToolError{Code: "ERR_URL_PRIVATE", Message: "private or local addresses are not allowed"}
	}
	return u, nil
}

// IsPublicAddr reports whether addr is routable on the public internet.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// DialControl is a net.Dialer Control hook that refuses connections to
// non-public addresses after DNS resolution.
func DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	if !IsPublicAddr(addr) {
		return ToolError{Code: "ERR_URL_PRIVATE", Message: "resolved address is private or local"}
	}
	return nil
}
