package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
)

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = []string{
	"Host", "Connection", "Keep-Alive", "Transfer-Encoding",
	"Proxy-Connection", "Te", "Upgrade",
}

// ExtractTargetURL turns the remainder of a /p/{url} path into the upstream
// URL: percent-decoded, single-slash scheme forms repaired, fragment and
// userinfo stripped, and the incoming query string appended.
func ExtractTargetURL(rawPath, incomingQuery string) (*url.URL, error) {
	raw := strings.TrimPrefix(rawPath, "/p/")
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url encoding: %w", err)
	}

	// Some clients collapse "https://" to "https:/" when joining paths.
	if strings.HasPrefix(decoded, "http:/") && !strings.HasPrefix(decoded, "http://") {
		decoded = "http://" + strings.TrimPrefix(decoded, "http:/")
	}
	if strings.HasPrefix(decoded, "https:/") && !strings.HasPrefix(decoded, "https://") {
		decoded = "https://" + strings.TrimPrefix(decoded, "https:/")
	}

	target, err := url.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}

	target.Fragment = ""
	if target.User != nil {
		log.Warn("Passthrough: stripping userinfo from target URL", "host", target.Host)
		target.User = nil
	}

	if incomingQuery != "" {
		if target.RawQuery != "" {
			target.RawQuery += "&" + incomingQuery
		} else {
			target.RawQuery = incomingQuery
		}
	}
	return target, nil
}

// HostAllowed checks the target host against the allowlist. An empty list
// allows everything. A pattern is an exact host or "*.suffix", which
// matches the suffix itself and any subdomain of it.
func HostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

// CopyProxyHeaders copies request headers, dropping hop-by-hop ones, and
// rewrites Host to the target.
func CopyProxyHeaders(dst *http.Request, src http.Header, targetHost string) {
	for k, vs := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			dst.Header.Add(k, v)
		}
	}
	dst.Host = targetHost
}

// StripHopByHop removes hop-by-hop headers from a response header set.
func StripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
