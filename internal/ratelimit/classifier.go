// classifier.go: pure request-to-key mapping and content/geo tiering
package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
)

// Content classes, ordered by cost. Expensive beats heavy beats light.
const (
	ContentLight     = "light"
	ContentHeavy     = "heavy"
	ContentExpensive = "expensive"
)

// RegionOther is the fallback tier for unknown or unmapped country codes.
const RegionOther = "OTHER"

// DefaultHeavyContentBytes is the payload size above which a request is
// classified heavy. 1 MiB.
const DefaultHeavyContentBytes int64 = 1 << 20

// Classifier maps a request's attributes to limiter keys and policy tiers.
// All methods are pure; configuration is fixed at construction.
type Classifier struct {
	heavyContentBytes int64
	costlyPathPrefix  []string
	knownRegions      map[string]struct{}
}

// NewClassifier builds a classifier. heavyContentBytes <= 0 falls back to
// DefaultHeavyContentBytes; costlyPaths are path prefixes classified as
// expensive; regions is the set of country codes with dedicated geo tiers.
func NewClassifier(heavyContentBytes int64, costlyPaths []string, regions []string) *Classifier {
	if heavyContentBytes <= 0 {
		heavyContentBytes = DefaultHeavyContentBytes
	}
	known := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		known[strings.ToUpper(r)] = struct{}{}
	}
	return &Classifier{
		heavyContentBytes: heavyContentBytes,
		costlyPathPrefix:  costlyPaths,
		knownRegions:      known,
	}
}

// BurstKey scopes a client to the burst strategy.
func BurstKey(clientKey string) string {
	return "burst:" + clientKey
}

// AdaptiveKey scopes a client to the reputation-adaptive strategy.
func AdaptiveKey(clientKey string) string {
	return "adaptive:" + clientKey
}

// Region resolves a country code to a configured geo tier, falling back to
// RegionOther.
func (c *Classifier) Region(countryCode string) string {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if _, ok := c.knownRegions[code]; ok {
		return code
	}
	return RegionOther
}

// GeoKey scopes a client to its resolved region tier.
func (c *Classifier) GeoKey(clientKey, countryCode string) string {
	return fmt.Sprintf("geo:%s:%s", c.Region(countryCode), clientKey)
}

// ContentClass classifies a request by cost. Costly paths win over payload
// size; missing content length resolves to light.
func (c *Classifier) ContentClass(path string, contentLength int64) string {
	for _, prefix := range c.costlyPathPrefix {
		if strings.HasPrefix(path, prefix) {
			return ContentExpensive
		}
	}
	if contentLength > c.heavyContentBytes {
		return ContentHeavy
	}
	return ContentLight
}

// ContentKey scopes a client to its content class tier.
func (c *Classifier) ContentKey(clientKey, path string, contentLength int64) string {
	return fmt.Sprintf("content:%s:%s", c.ContentClass(path, contentLength), clientKey)
}

// ClientKeyFromRequest derives the rate-limited principal: the identity
// header when present, else the client network address. Collisions behind
// shared proxies are a known, accepted limitation.
func ClientKeyFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return clientIP(r)
}

// FromHTTP builds the admission Request for an inbound HTTP request.
func FromHTTP(r *http.Request) *Request {
	return &Request{
		ClientKey:     ClientKeyFromRequest(r),
		Path:          r.URL.Path,
		Method:        r.Method,
		ContentLength: r.ContentLength,
		CountryCode:   r.Header.Get("X-Country-Code"),
	}
}

// clientIP checks the usual proxy headers before falling back to the
// connection address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
