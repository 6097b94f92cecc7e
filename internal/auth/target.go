package auth

import (
	"net/url"
	"strings"
)

// ValidateTarget accepts relative portal paths only, so a caller can never
// point the session's cookies at another host.
func ValidateTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrInvalidTarget
	}
	if strings.HasPrefix(target, "/") || strings.Contains(target, `\`) {
		return "", ErrInvalidTarget
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", ErrInvalidTarget
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil ||
		u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", ErrInvalidTarget
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == ".." || segment == "." {
			return "", ErrInvalidTarget
		}
	}
	return u.Path, nil
}
