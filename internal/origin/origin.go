// Package origin implements the browser Origin check applied to websocket
// upgrade requests.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Checker decides whether a browser Origin may open a signaling connection.
//
// With an empty allow list the policy is same-host: the normalized Origin
// host[:port] must match the request's Host header, with default ports
// treated as equivalent. A non-empty allow list replaces that policy; each
// entry is either "*" or a normalized origin string ("scheme://host[:port]").
type Checker struct {
	allowed []string
}

func NewChecker(allowed []string) *Checker {
	return &Checker{allowed: allowed}
}

// Allow reports whether the given Origin header may access requestHost.
//
// Non-browser clients send no Origin header; an empty value is always
// allowed, matching gorilla/websocket's default.
func (c *Checker) Allow(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}

	normalized, originHost, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	if len(c.allowed) > 0 {
		for _, a := range c.allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}

	// Same-host default. Scheme is deliberately not compared: behind a
	// TLS-terminating proxy the request looks like HTTP while the browser
	// Origin says HTTPS.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		// "null" never matches a host-based request.
		return false
	}
	reqHost, ok := normalizeHost(requestHost, scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// Normalize validates a browser Origin header and returns the canonical
// origin (scheme://host[:port], default ports stripped) plus the host[:port]
// part for same-host comparisons. The opaque Origin "null" is returned as-is
// with an empty host.
func Normalize(originHeader string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost canonicalizes an authority host[:port]: hostname lowercased,
// IPv6 literals bracketed, default ports for the scheme removed.
func normalizeHost(rawHost, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.TrimSpace(rawHost))
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literal hostnames are returned
// without brackets; the port is not validated and is empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, ok = strings.CutPrefix(rest, ":")
		if !ok || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		hostname, port, _ = strings.Cut(rawHost, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid authority syntax.
		return "", "", false
	}
}
