package remote

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gitlab.com/grit-scm/grit/internal/gitconfig"
)

// canonicalizeURL validates the URL and, on Windows, rewrites UNC paths like
// \\server\path to //server/path for interoperability with other git
// implementations. No other normalization happens.
func canonicalizeURL(url string) (string, error) {
	if url == "" {
		return "", EmptyURLError{}
	}

	if runtime.GOOS == "windows" && len(url) > 2 && url[0] == '\\' && url[1] == '\\' && isAlnum(url[2]) {
		return strings.ReplaceAll(url, `\`, "/"), nil
	}

	return url, nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// applyInsteadOf rewrites the URL using the url.<prefix>.insteadof (fetch) or
// url.<prefix>.pushinsteadof (push) configuration. Among all entries whose
// value is a prefix of the URL the longest one wins; its prefix is replaced
// by the entry's infix name. Entries of equal length do not displace an
// earlier winner. Without a match the URL is returned unchanged.
func applyInsteadOf(cfg gitconfig.Store, url string, direction Direction) (string, error) {
	suffix := ".insteadof"
	if direction == DirectionPush {
		suffix = ".pushinsteadof"
	}

	matchLength := 0
	replacement := ""

	if err := cfg.ForEachMatch(`^url\..+\.(push)?insteadof$`, func(entry gitconfig.Entry) error {
		if !strings.HasSuffix(entry.Key, suffix) {
			return nil
		}

		if !strings.HasPrefix(url, entry.Value) {
			return nil
		}

		if len(entry.Value) <= matchLength {
			return nil
		}

		matchLength = len(entry.Value)
		replacement = entry.Key[len("url.") : len(entry.Key)-len(suffix)]

		return nil
	}); err != nil {
		return "", fmt.Errorf("scan insteadof config: %w", err)
	}

	if matchLength == 0 {
		return url, nil
	}

	return replacement + url[matchLength:], nil
}

// urlForDirection picks the URL for the given direction, falling back from
// the push URL to the fetch URL, and gives the resolve hook a final chance to
// rewrite it.
func (r *Remote) urlForDirection(direction Direction) (string, error) {
	url := r.url
	if direction == DirectionPush && r.pushURL != "" {
		url = r.pushURL
	}

	if url == "" {
		return "", MissingURLError{Name: r.name, Direction: direction}
	}

	return r.resolveURL(url, direction)
}

func (r *Remote) resolveURL(url string, direction Direction) (string, error) {
	if r.callbacks.ResolveURL == nil {
		return url, nil
	}

	resolved, err := r.callbacks.ResolveURL(url, direction)
	if err != nil {
		if errors.Is(err, ErrPassthrough) {
			return url, nil
		}

		return "", err
	}

	return resolved, nil
}

// HTTPProxy determines the proxy URL for this remote's connection, going
// through the possible sources from most specific to least specific:
// remote.<name>.proxy, http.proxy, and finally the proxy environment
// variables (lowercase before uppercase).
func (r *Remote) HTTPProxy(useSSL bool) (string, error) {
	if r.repo == nil {
		return "", DetachedOperationError{Operation: "resolve proxy for"}
	}

	if r.name != "" {
		if proxy, err := r.repo.Config.GetString(configKey(r.name, "proxy")); err == nil {
			return proxy, nil
		} else if !errors.Is(err, gitconfig.ErrNotFound) {
			return "", fmt.Errorf("read remote proxy config: %w", err)
		}
	}

	if proxy, err := r.repo.Config.GetString("http.proxy"); err == nil {
		return proxy, nil
	} else if !errors.Is(err, gitconfig.ErrNotFound) {
		return "", fmt.Errorf("read http proxy config: %w", err)
	}

	envVars := []string{"http_proxy", "HTTP_PROXY"}
	if useSSL {
		envVars = []string{"https_proxy", "HTTPS_PROXY"}
	}

	for _, envVar := range envVars {
		if proxy, ok := os.LookupEnv(envVar); ok {
			return proxy, nil
		}
	}

	return "", nil
}
