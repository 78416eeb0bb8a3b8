package proxy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"airdrop_manager/internal/errs"
)

var addrRe = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3}):(\d{1,5})$`)

// ParseAddress accepts only a dotted IPv4 address and a port, "a.b.c.d:port",
// with octets in 0..255 and port in 1..65535.
func ParseAddress(addr string) (host string, port int, err error) {
	addr = strings.TrimSpace(addr)
	m := addrRe.FindStringSubmatch(addr)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", errs.ErrInvalidFormat, addr)
	}
	for _, o := range m[1:5] {
		n, _ := strconv.Atoi(o)
		if n > 255 {
			return "", 0, fmt.Errorf("%w: octet %s out of range in %q", errs.ErrInvalidFormat, o, addr)
		}
	}
	port, _ = strconv.Atoi(m[5])
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: port %d out of range in %q", errs.ErrInvalidFormat, port, addr)
	}
	host = strings.Join(m[1:5], ".")
	return host, port, nil
}
