package render

import (
	"net/url"
	"strings"
)

// wrapperPaths are paths that carry the real destination in a query
// parameter on any host (search result click-through links).
var wrapperPaths = map[string]bool{
	"/url": true,
	"/go":  true,
}

// wrapperParams are checked in order for the wrapped destination.
var wrapperParams = []string{"url", "q"}

// NormalizeURL trims raw and prefixes https:// unless it already has an
// http or https scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// UnwrapRedirect extracts the destination from a redirect wrapper URL.
// It reports false when u is not a wrapper or carries no destination.
// A destination without a scheme must still name a dotted host, so a
// search term in q is not mistaken for one.
func UnwrapRedirect(u string, wrapperHosts []string) (string, bool) {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}

	listed := hostListed(parsed.Hostname(), wrapperHosts)
	if !wrapperPaths[parsed.Path] && !listed {
		return "", false
	}

	query := parsed.Query()
	for _, p := range wrapperParams {
		if dest, ok := destination(query.Get(p), wrapperHosts); ok {
			return dest, true
		}
	}
	return "", false
}

// destination validates a wrapped destination and normalizes it.
func destination(raw string, wrapperHosts []string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	dest := NormalizeURL(raw)
	d, err := url.Parse(dest)
	if err != nil || d.Host == "" {
		return "", false
	}
	if dest == raw {
		return dest, true
	}
	host := d.Hostname()
	if strings.Contains(strings.Trim(host, "."), ".") || hostListed(host, wrapperHosts) {
		return dest, true
	}
	return "", false
}

func hostListed(host string, hosts []string) bool {
	for _, h := range hosts {
		if strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}
