package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"site-ingest/pkg/utils"
)

// Canonicalize returns the identity form of an absolute URL.
// See Resolve for the transformation applied.
func Canonicalize(raw string) (string, error) {
	return Resolve("", raw)
}

// Resolve resolves raw against base (when raw is relative) and canonicalizes the result:
// scheme and host are lowercased, default ports are dropped, query, fragment and
// ";params" are removed and the path always ends with "/".
// Fails with utils.ErrInvalidURL when either input cannot be parsed or the result
// has no scheme or host.
func Resolve(base, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", utils.ErrInvalidURL)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", utils.ErrInvalidURL, raw, err)
	}

	if !ref.IsAbs() || ref.Host == "" {
		if base == "" {
			if ref.IsAbs() {
				return "", fmt.Errorf("%w: %q has no host", utils.ErrInvalidURL, raw)
			}
			return "", fmt.Errorf("%w: relative URL %q without base", utils.ErrInvalidURL, raw)
		}
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return "", fmt.Errorf("%w: base %q: %w", utils.ErrInvalidURL, base, err)
		}
		ref = baseURL.ResolveReference(ref)
	}

	return canonicalString(ref)
}

// canonicalString applies the canonical transformation to an already absolute URL.
// Does not modify u.
func canonicalString(u *url.URL) (string, error) {
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is missing scheme or host", utils.ErrInvalidURL, u.String())
	}

	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if host, port, err := net.SplitHostPort(c.Host); err == nil {
		if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
			c.Host = host
			if strings.Contains(host, ":") {
				c.Host = "[" + host + "]"
			}
		}
	}

	escaped := stripParams(c.EscapedPath())
	if !strings.HasSuffix(escaped, "/") {
		escaped += "/"
	}
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: path of %q: %w", utils.ErrInvalidURL, u.String(), err)
	}
	c.Path = decoded
	c.RawPath = escaped

	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""

	return c.String(), nil
}

// stripParams drops the ";params" part of the last path segment
func stripParams(escapedPath string) string {
	lastSlash := strings.LastIndex(escapedPath, "/")
	if semi := strings.Index(escapedPath[lastSlash+1:], ";"); semi >= 0 {
		return escapedPath[:lastSlash+1+semi]
	}
	return escapedPath
}

// IsSiteRoot reports whether u and base share the same canonical form.
// Invalid inputs are never the site root.
func IsSiteRoot(u, base string) bool {
	cu, err := Canonicalize(u)
	if err != nil {
		return false
	}
	cb, err := Canonicalize(base)
	if err != nil {
		return false
	}
	return cu == cb
}

// ParentFromURL strips the last path segment of u.
// Returns false when u is invalid or already the root path.
func ParentFromURL(u string) (string, bool) {
	canonical, err := Canonicalize(u)
	if err != nil {
		return "", false
	}
	parsed, err := url.Parse(canonical)
	if err != nil {
		return "", false
	}

	segments := strings.Split(strings.TrimSuffix(parsed.EscapedPath(), "/"), "/")
	if len(segments) <= 1 {
		return "", false
	}

	parentPath := strings.Join(segments[:len(segments)-1], "/") + "/"
	parent, err := canonicalString(&url.URL{Scheme: parsed.Scheme, User: parsed.User, Host: parsed.Host, RawPath: parentPath, Path: mustUnescape(parentPath)})
	if err != nil {
		return "", false
	}
	return parent, true
}

func mustUnescape(p string) string {
	if s, err := url.PathUnescape(p); err == nil {
		return s
	}
	return p
}

// AbsURL resolves href against base without canonicalizing it.
// Returns "" when href is empty or either side cannot be parsed.
func AbsURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
