package store

import (
	"fmt"
	"strings"
)

const targetDomain = "facebook.com"

// Normalize derives the canonical recipient key from a raw import line.
//
// Precedence:
//  1. pure numeric string -> itself
//  2. contains the target domain -> numeric id= query parameter if the path
//     is a profile.php style URL, otherwise the last non-empty path segment
//  3. bare username made of [a-z0-9._] (case-insensitive) -> as-is
//
// Anything else is rejected with a reason.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty input")
	}

	if isDigits(raw) {
		return raw, nil
	}

	// URL-style inputs: anything with an explicit scheme, or anything
	// mentioning the target domain even without one ("m.facebook.com/...").
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return "", fmt.Errorf("profile URL has no path segment")
		}
		return normalizeProfileURL(rest[slash:])
	}
	if idx := strings.Index(strings.ToLower(raw), targetDomain); idx >= 0 {
		return normalizeProfileURL(raw[idx+len(targetDomain):])
	}

	if strings.ContainsAny(raw, " \t") {
		return "", fmt.Errorf("contains whitespace")
	}
	if !isUsername(raw) {
		return "", fmt.Errorf("not a numeric id, profile URL, or username")
	}
	return raw, nil
}

// normalizeProfileURL handles the part of the URL after the domain,
// e.g. "/profile.php?id=42&ref=x" or "/some.user/".
func normalizeProfileURL(rest string) (string, error) {
	if strings.Contains(rest, "profile.php") && strings.Contains(rest, "id=") {
		id := rest[strings.LastIndex(rest, "id=")+len("id="):]
		if amp := strings.IndexByte(id, '&'); amp >= 0 {
			id = id[:amp]
		}
		if !isDigits(id) {
			return "", fmt.Errorf("profile URL id parameter is not numeric")
		}
		return id, nil
	}

	// Strip query string and trailing slashes, keep the last path segment.
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	rest = strings.Trim(rest, "/")
	segments := strings.Split(rest, "/")
	key := segments[len(segments)-1]
	if key == "" {
		return "", fmt.Errorf("profile URL has no path segment")
	}
	return key, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_':
		default:
			return false
		}
	}
	return true
}
