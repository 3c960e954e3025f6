package resolver

import (
	"net"
	"strings"

	"github.com/dnsscience/authdnsd/internal/cookie"
	"github.com/dnsscience/authdnsd/internal/random"
	"github.com/dnsscience/authdnsd/internal/wire"
)

// checkCookie validates an incoming query's COOKIE option, if present,
// reporting whether the query must be rejected with BADCOOKIE.
// Grounded in the teacher's cookie.Manager.ValidateQueryCookie.
func (r *Resolver) checkCookie(opt wire.ResourceRecord, clientAddr string) bool {
	o, ok := wire.GetOption(opt, wire.EDNSOptionCookie)
	if !ok {
		return false
	}
	clientCookie, serverCookie, err := cookie.ParseCookie(o.Data)
	if err != nil {
		return false
	}
	host, _, _ := net.SplitHostPort(clientAddr)
	bad, _ := r.cookies.ValidateQueryCookie(clientCookie, serverCookie, net.ParseIP(host))
	return bad
}

// echoCookie builds the COOKIE option to attach to a response: the
// client's cookie plus a freshly derived server cookie.
func (r *Resolver) echoCookie(o wire.EDNSOption) (wire.EDNSOption, bool) {
	clientCookie, _, err := cookie.ParseCookie(o.Data)
	if err != nil {
		return wire.EDNSOption{}, false
	}
	serverCookie, err := r.cookies.GenerateServerCookie(clientCookie, nil)
	if err != nil {
		return wire.EDNSOption{}, false
	}
	return wire.EDNSOption{Code: wire.EDNSOptionCookie, Data: cookie.FormatCookie(clientCookie, serverCookie[:])}, true
}

// apply0x20 randomizes the letter case of name, used to add entropy to
// a forwarded query so a spoofed response must also guess the casing.
// Grounded in the teacher's engine.Apply0x20Encoding.
func apply0x20(name string) string {
	b := []byte(name)
	mask := random.Bits(len(b))
	for i, c := range b {
		if !isASCIILetter(c) {
			continue
		}
		if mask[i]&1 == 1 {
			b[i] = toUpperByte(c)
		} else {
			b[i] = toLowerByte(c)
		}
	}
	return string(b)
}

// validate0x20Response reports whether resp preserves the exact letter
// casing sent in query, rejecting the response otherwise. Grounded in
// the teacher's engine.Validate0x20Response.
func validate0x20Response(query, resp string) bool {
	return query == resp
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toUpperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

func toLowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// bailiwickCheck reports whether rr.Name falls within zone, rejecting
// out-of-bailiwick glue/additional records a malicious or misconfigured
// upstream might try to smuggle in. Grounded in the teacher's
// engine.ScrubResponse / extractZone bailiwick logic.
func bailiwickCheck(name, zone string) bool {
	name, zone = wire.CanonicalName(name), wire.CanonicalName(zone)
	return name == zone || strings.HasSuffix(name, "."+zone)
}

// scrubOutOfBailiwick drops records from extra whose owner name is not
// within zone's bailiwick, preventing a forwarder from injecting
// unrelated records via the additional/authority sections.
func scrubOutOfBailiwick(rrs []wire.ResourceRecord, zone string) []wire.ResourceRecord {
	out := rrs[:0:0]
	for _, rr := range rrs {
		if bailiwickCheck(rr.Name, zone) {
			out = append(out, rr)
		}
	}
	return out
}

// extractZone returns the parent zone of a query name for bailiwick
// purposes: "www.example.com." -> "example.com.". Names with two or
// fewer labels are their own zone.
func extractZone(name string) string {
	labels := wire.Labels(name)
	if len(labels) <= 2 {
		return wire.CanonicalName(name)
	}
	return wire.CanonicalName(strings.Join(labels[1:], "."))
}
