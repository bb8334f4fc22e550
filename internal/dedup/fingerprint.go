package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// HashFunc digests the normalized fingerprint string. MD5 is the default:
// this is a dedup key, not a security boundary.
type HashFunc func(s string) string

// MD5Hash is the default digest.
func MD5Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SHA256Hash is the drop-in stronger digest.
func SHA256Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// defaultIgnoredHeaders are common browser/negotiation headers that carry no
// request identity.
var defaultIgnoredHeaders = []string{
	"User-Agent", "Accept", "Accept-Language", "Accept-Encoding",
	"Connection", "Upgrade-Insecure-Requests", "Cache-Control",
	"Sec-Fetch-Dest", "Sec-Fetch-Mode", "Sec-Fetch-Site",
}

// FingerprinterConfig tunes which request parts join the fingerprint.
type FingerprinterConfig struct {
	IncludeMethod  bool
	IncludeURL     bool
	IncludeHeaders bool
	IncludeBody    bool
	// IgnoreParams are query/body keys stripped before hashing, e.g.
	// timestamp or nonce parameters.
	IgnoreParams []string
	// IgnoreHeaders replaces the default ignored-header set when non-nil.
	IgnoreHeaders  []string
	SortParameters bool
	Hash           HashFunc
}

// DefaultFingerprinterConfig covers method+URL+body with sorted parameters.
func DefaultFingerprinterConfig() FingerprinterConfig {
	return FingerprinterConfig{
		IncludeMethod:  true,
		IncludeURL:     true,
		IncludeBody:    true,
		SortParameters: true,
	}
}

// Fingerprinter computes a stable digest identifying a logically-equivalent
// outbound request.
type Fingerprinter struct {
	cfg           FingerprinterConfig
	ignoreParams  map[string]struct{}
	ignoreHeaders map[string]struct{}
	hash          HashFunc
}

// NewFingerprinter builds a fingerprinter from cfg.
func NewFingerprinter(cfg FingerprinterConfig) *Fingerprinter {
	f := &Fingerprinter{
		cfg:           cfg,
		ignoreParams:  make(map[string]struct{}, len(cfg.IgnoreParams)),
		ignoreHeaders: make(map[string]struct{}),
		hash:          cfg.Hash,
	}
	if f.hash == nil {
		f.hash = MD5Hash
	}
	for _, p := range cfg.IgnoreParams {
		f.ignoreParams[p] = struct{}{}
	}
	ignored := cfg.IgnoreHeaders
	if ignored == nil {
		ignored = defaultIgnoredHeaders
	}
	for _, h := range ignored {
		f.ignoreHeaders[strings.ToLower(h)] = struct{}{}
	}
	return f
}

// Fingerprint digests the normalized (method, URL, body, headers) tuple. It
// never fails: when any part cannot be normalized the raw URL alone is
// hashed.
func (f *Fingerprinter) Fingerprint(method, rawURL string, headers map[string]string, body map[string]any) string {
	var parts []string

	if f.cfg.IncludeMethod {
		parts = append(parts, "METHOD:"+strings.ToUpper(method))
	}

	if f.cfg.IncludeURL {
		normalized, err := f.normalizeURL(rawURL)
		if err != nil {
			return f.hash(rawURL)
		}
		parts = append(parts, "URL:"+normalized)
	}

	if f.cfg.IncludeBody && len(body) > 0 {
		normalized, err := f.normalizeBody(body)
		if err != nil {
			return f.hash(rawURL)
		}
		parts = append(parts, "DATA:"+normalized)
	}

	if f.cfg.IncludeHeaders && len(headers) > 0 {
		if normalized := f.normalizeHeaders(headers); normalized != "" {
			parts = append(parts, "HEADERS:"+normalized)
		}
	}

	return f.hash(strings.Join(parts, "|"))
}

// normalizeURL lower-cases the host, defaults the path to "/", strips ignored
// query parameters and sorts the rest lexicographically by key.
func (f *Fingerprinter) normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Host)
	path := u.Path
	if path == "" {
		path = "/"
	}

	q := u.Query()
	for p := range f.ignoreParams {
		q.Del(p)
	}

	normalized := u.Scheme + "://" + host + path
	if len(q) > 0 {
		if f.cfg.SortParameters {
			normalized += "?" + q.Encode() // Encode sorts by key
		} else {
			normalized += "?" + u.RawQuery
		}
	}
	return normalized, nil
}

// normalizeBody strips ignored keys and serializes as sorted-key JSON.
func (f *Fingerprinter) normalizeBody(body map[string]any) (string, error) {
	filtered := make(map[string]any, len(body))
	for k, v := range body {
		if _, skip := f.ignoreParams[k]; skip {
			continue
		}
		filtered[k] = v
	}
	// encoding/json marshals map keys in sorted order
	raw, err := json.Marshal(filtered)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// normalizeHeaders lower-cases, filters and sorts headers.
func (f *Fingerprinter) normalizeHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	filtered := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if _, skip := f.ignoreHeaders[lk]; skip {
			continue
		}
		filtered[lk] = v
		keys = append(keys, lk)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filtered[k])
	}
	return b.String()
}
